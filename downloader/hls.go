package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
	"go.uber.org/zap"
)

const prefetchKey = "skd://itunes.apple.com/P000000000/s1/e1"

var keyURIPattern = regexp.MustCompile(`"(skd?://[^"]*)"`)

// ErrNoALACVariant is returned when a master playlist offers no ALAC stream within the sample rate cap.
var ErrNoALACVariant = errors.New("no ALAC variant within sample rate limit")

// MediaStream is the selected ALAC rendition of a master playlist
type MediaStream struct {
	URL        string
	Keys       []string // Keys[i] decrypts samples with description index i
	SampleRate int
	BitDepth   string
}

// ExtractMedia fetches a master playlist and selects the best ALAC stream.
func (sd *SongDownloaderImpl) ExtractMedia(ctx context.Context, masterURL string) (*MediaStream, error) {
	base, err := url.Parse(masterURL)
	if err != nil {
		return nil, err
	}
	body, err := sd.fetch(ctx, masterURL)
	if err != nil {
		return nil, err
	}
	stream, err := SelectALACStream(string(body), base, sd.cfg.AlacMax)
	if err != nil {
		return nil, err
	}
	sd.logger.Debug("selected ALAC stream",
		zap.String("bit_depth", stream.BitDepth),
		zap.Int("sample_rate", stream.SampleRate))
	return stream, nil
}

// SelectALACStream picks the highest average bandwidth ALAC variant whose
// sample rate does not exceed alacMax, and collects the key URIs of the master.
func SelectALACStream(master string, base *url.URL, alacMax int) (*MediaStream, error) {
	from, listType, err := m3u8.DecodeFrom(strings.NewReader(master), true)
	if err != nil || listType != m3u8.MASTER {
		return nil, errors.New("m3u8 not of master type")
	}
	variants := from.(*m3u8.MasterPlaylist).Variants
	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].AverageBandwidth > variants[j].AverageBandwidth
	})

	var stream *MediaStream
	for _, variant := range variants {
		if variant.Codecs != "alac" {
			continue
		}
		// audio group ids look like audio-alac-stereo-44100-24
		split := strings.Split(variant.Audio, "-")
		if len(split) < 2 {
			continue
		}
		rate, err := strconv.Atoi(split[len(split)-2])
		if err != nil {
			return nil, fmt.Errorf("parse sample rate of %q: %w", variant.Audio, err)
		}
		if rate > alacMax {
			continue
		}
		streamURL, err := base.Parse(variant.URI)
		if err != nil {
			return nil, err
		}
		streamURL.Path = strings.TrimSuffix(streamURL.Path, ".m3u8") + "_m.mp4"
		stream = &MediaStream{URL: streamURL.String(), SampleRate: rate, BitDepth: split[len(split)-1]}
		break
	}
	if stream == nil {
		return nil, ErrNoALACVariant
	}

	stream.Keys = []string{prefetchKey}
	for _, match := range keyURIPattern.FindAllStringSubmatch(master, -1) {
		if strings.HasSuffix(match[1], "c23") || strings.HasSuffix(match[1], "c6") {
			stream.Keys = append(stream.Keys, match[1])
		}
	}
	return stream, nil
}
