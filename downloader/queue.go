package downloader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"go-alac-dl/applemusic"
)

// Downloader turns Apple Music URLs into download queues and runs them.
type Downloader struct {
	source   MetadataSource
	songs    SongDownloader
	reporter ProgressReporter
	logger   *zap.Logger
}

// NewDownloader creates a Downloader. reporter may be nil.
func NewDownloader(source MetadataSource, songs SongDownloader, reporter ProgressReporter, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{source: source, songs: songs, reporter: reporter, logger: logger}
}

// URLInfo parses rawURL, or returns nil when it is not a supported Apple Music URL.
func (d *Downloader) URLInfo(rawURL string) *applemusic.URLInfo {
	return applemusic.ParseURL(cleanURL(rawURL))
}

// cleanURL strips control characters and anything after a NUL byte.
func cleanURL(rawURL string) string {
	if idx := strings.IndexByte(rawURL, 0); idx != -1 {
		rawURL = rawURL[:idx]
	}
	return strings.TrimFunc(rawURL, func(r rune) bool {
		return r <= 32 || r == 127
	})
}

// DownloadQueue lists the songs to download for info, in catalog order.
// Tracks that are not songs are skipped.
func (d *Downloader) DownloadQueue(ctx context.Context, info *applemusic.URLInfo) ([]QueueItem, error) {
	if info == nil {
		return nil, NewDownloadError(ErrorInvalidURL, "no URL info")
	}

	var tracks []applemusic.TrackRef
	switch info.URLType {
	case applemusic.URLTypeSong:
		return []QueueItem{{SongID: info.ID, Index: 1, Total: 1}}, nil
	case applemusic.URLTypeAlbum:
		album, err := d.source.Album(ctx, info.ID)
		if err != nil {
			return nil, d.queueError("album", info.ID, err)
		}
		tracks = album.Relationships.Tracks.Data
	case applemusic.URLTypePlaylist:
		playlist, err := d.source.Playlist(ctx, info.ID)
		if err != nil {
			return nil, d.queueError("playlist", info.ID, err)
		}
		tracks = playlist.Relationships.Tracks.Data
	default:
		return nil, NewDownloadError(ErrorInvalidURL, fmt.Sprintf("unsupported URL type %q", info.URLType))
	}

	var queue []QueueItem
	for _, track := range tracks {
		if track.Type != applemusic.URLTypeSong {
			d.logger.Warn("skipping unsupported track",
				zap.String("id", track.ID),
				zap.String("type", track.Type),
				zap.String("name", track.Attributes.Name))
			continue
		}
		name := track.Attributes.Name
		if name != "" && track.Attributes.ArtistName != "" {
			name = fmt.Sprintf("%s - %s", name, track.Attributes.ArtistName)
		}
		queue = append(queue, QueueItem{SongID: track.ID, Name: name})
	}
	for i := range queue {
		queue[i].Index = i + 1
		queue[i].Total = len(queue)
	}
	return queue, nil
}

func (d *Downloader) queueError(kind, id string, err error) error {
	return NewDownloadErrorWithCause(classify(context.Background(), err, ErrorNetworkFailure),
		fmt.Sprintf("failed to get %s %s", kind, id), err)
}

// Download downloads one queue item, reporting progress while it runs.
func (d *Downloader) Download(ctx context.Context, item QueueItem) error {
	var callbacks ProgressCallbacks
	if d.reporter != nil {
		if err := d.reporter.StartTracking(ctx, item.Label()); err != nil {
			d.logger.Debug("failed to start progress tracking", zap.Error(err))
		}
		tracker := NewProgressTracker(d.reporter, d.logger)
		if err := tracker.Start(ctx); err != nil {
			return err
		}
		defer tracker.Stop()
		callbacks = tracker.Callbacks()
	}

	result, err := d.songs.Download(ctx, item.SongID, callbacks)
	if err != nil {
		d.logFailure(item, err)
		return err
	}

	d.logger.Info("download finished",
		zap.String("song_id", item.SongID),
		zap.String("path", result.FilePath),
		zap.Int64("size", result.FileSize),
		zap.Bool("skipped", result.Skipped),
		zap.Duration("took", result.Duration))
	return nil
}

// logFailure records where a song download stopped.
func (d *Downloader) logFailure(item QueueItem, err error) {
	status := d.songs.GetStatus()
	fields := []zap.Field{
		zap.String("song_id", item.SongID),
		zap.String("phase", status.Phase.String()),
		zap.Error(err),
	}
	if !status.StartTime.IsZero() {
		fields = append(fields, zap.Duration("after", time.Since(status.StartTime)))
	}

	var de *DownloadError
	if errors.As(err, &de) {
		for _, key := range []string{"phase", "file"} {
			if v, ok := de.Context[key]; ok {
				fields = append(fields, zap.Any("failed_"+key, v))
			}
		}
		if de.IsType(ErrorCancelled) {
			d.logger.Info("download cancelled", fields...)
			return
		}
	}
	d.logger.Error("download failed", fields...)
}
