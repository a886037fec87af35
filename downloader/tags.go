package downloader

import (
	"context"

	"github.com/Sorrow446/go-mp4tag"
	"go.uber.org/zap"

	"go-alac-dl/applemusic"
)

// applyTags adds cover art, and the iTunes release year when the catalog has no date.
func (sd *SongDownloaderImpl) applyTags(ctx context.Context, filePath string, meta *applemusic.Song) error {
	tags := &mp4tag.MP4Tags{}

	if coverURL := sd.source.ArtworkURL(ctx, meta); coverURL != "" {
		cover, err := sd.fetch(ctx, coverURL)
		if err != nil {
			sd.logger.Warn("failed to fetch artwork", zap.String("url", coverURL), zap.Error(err))
		} else {
			tags.Pictures = []*mp4tag.MP4Picture{{Data: cover}}
		}
	}

	if meta.Attributes.ReleaseDate == "" {
		if year := sd.source.ReleaseYear(ctx, meta); year > 0 {
			tags.Year = int32(year)
		}
	}

	if len(tags.Pictures) == 0 && tags.Year == 0 {
		return nil
	}

	mp4t, err := mp4tag.Open(filePath)
	if err != nil {
		return err
	}
	defer mp4t.Close()

	return mp4t.Write(tags, []string{})
}
