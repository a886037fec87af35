package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"go-alac-dl/applemusic"
	"go-alac-dl/config"
	"go-alac-dl/downloader"
	"go-alac-dl/logging"
)

var errNotSetUp = errors.New("backend used before Setup")

// AppleMusicBackend is the Collaborator backed by the Apple Music catalog
// and the local wrapper service.
type AppleMusicBackend struct {
	cfg    *config.Config
	out    io.Writer
	logger *zap.Logger

	downloader *downloader.Downloader
}

// NewAppleMusicBackend creates a backend; progress is written to out.
func NewAppleMusicBackend(cfg *config.Config, out io.Writer, logger *zap.Logger) *AppleMusicBackend {
	return &AppleMusicBackend{cfg: cfg, out: out, logger: logging.OrNop(logger)}
}

// Setup opens the catalog session, the iTunes lookup client and the downloaders.
func (b *AppleMusicBackend) Setup(ctx context.Context, cookiesPath string) error {
	api, err := applemusic.NewAPIFromNetscapeCookies(cookiesPath,
		applemusic.WithLanguage(b.cfg.Language),
		applemusic.WithLogger(b.logger.Named("api")))
	if err != nil {
		return err
	}
	if err := api.Setup(ctx); err != nil {
		return err
	}
	b.logger.Debug("session ready",
		zap.String("storefront", api.Storefront),
		zap.String("language", api.Language))

	itunes := applemusic.NewItunesAPI(api.Storefront, api.Language)
	if err := itunes.Setup(); err != nil {
		return fmt.Errorf("itunes lookup: %w", err)
	}

	catalog := applemusic.NewCatalog(api, itunes)
	songs := downloader.NewSongDownloaderImpl(catalog, downloader.SongDownloaderConfig{
		DeviceAddr:  b.cfg.DeviceAddr,
		DecryptAddr: b.cfg.DecryptAddr,
		OutputDir:   b.cfg.DownloadDir,
		AlacMax:     b.cfg.AlacMax,
	}, b.logger.Named("song"))

	var reporter downloader.ProgressReporter
	if b.out != nil {
		reporter = downloader.NewTerminalProgressReporter(b.out, b.logger)
	}
	b.downloader = downloader.NewDownloader(catalog, songs, reporter, b.logger)
	return nil
}

// URLInfo classifies rawURL. It works without Setup.
func (b *AppleMusicBackend) URLInfo(rawURL string) *applemusic.URLInfo {
	if b.downloader != nil {
		return b.downloader.URLInfo(rawURL)
	}
	return (&downloader.Downloader{}).URLInfo(rawURL)
}

// DownloadQueue expands info into the songs to download
func (b *AppleMusicBackend) DownloadQueue(ctx context.Context, info *applemusic.URLInfo) ([]downloader.QueueItem, error) {
	if b.downloader == nil {
		return nil, errNotSetUp
	}
	return b.downloader.DownloadQueue(ctx, info)
}

// Download downloads one queue item
func (b *AppleMusicBackend) Download(ctx context.Context, item downloader.QueueItem) error {
	if b.downloader == nil {
		return errNotSetUp
	}
	return b.downloader.Download(ctx, item)
}
