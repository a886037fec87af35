package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/abema/go-mp4"
	"go.uber.org/zap"

	"go-alac-dl/applemusic"
)

var forbiddenNames = regexp.MustCompile(`[\\/<>:"|?*]`)

// SongDownloaderConfig holds the endpoints and limits of a SongDownloaderImpl
type SongDownloaderConfig struct {
	DeviceAddr  string
	DecryptAddr string
	OutputDir   string
	AlacMax     int
}

// SongDownloaderImpl implements the SongDownloader interface
type SongDownloaderImpl struct {
	source  MetadataSource
	client  *http.Client
	wrapper *WrapperClient
	cfg     SongDownloaderConfig
	logger  *zap.Logger

	// State management
	mu       sync.RWMutex
	status   DownloadStatus
	isActive bool
}

// NewSongDownloaderImpl creates a new instance of SongDownloaderImpl
func NewSongDownloaderImpl(source MetadataSource, cfg SongDownloaderConfig, logger *zap.Logger) *SongDownloaderImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	// no overall timeout for media; ctx bounds each request
	client := &http.Client{}
	if base := source.HTTPClient(); base != nil {
		c := *base
		c.Timeout = 0
		client = &c
	}
	return &SongDownloaderImpl{
		source:  source,
		client:  client,
		wrapper: &WrapperClient{DeviceAddr: cfg.DeviceAddr, DecryptAddr: cfg.DecryptAddr},
		cfg:     cfg,
		logger:  logger,
		status: DownloadStatus{
			Phase:    PhaseValidating,
			IsActive: false,
		},
	}
}

// FileName returns the output file name for a song
func FileName(meta *applemusic.Song) string {
	name := fmt.Sprintf("%s - %s", meta.Attributes.Name, meta.Attributes.ArtistName)
	return forbiddenNames.ReplaceAllString(name, "_") + ".m4a"
}

// Download implements the SongDownloader interface
func (sd *SongDownloaderImpl) Download(ctx context.Context, songID string, callbacks ProgressCallbacks) (*DownloadResult, error) {
	sd.mu.Lock()
	if sd.isActive {
		sd.mu.Unlock()
		return nil, NewDownloadError(ErrorUnknown, "download already in progress")
	}

	downloadCtx, cancel := context.WithCancel(ctx)
	sd.isActive = true
	sd.status = DownloadStatus{Phase: PhaseValidating, StartTime: time.Now(), IsActive: true}
	sd.mu.Unlock()

	defer func() {
		cancel()
		sd.mu.Lock()
		sd.isActive = false
		sd.status.IsActive = false
		sd.mu.Unlock()
	}()

	// Phase 1: metadata and stream selection
	sd.updatePhase(PhaseValidating, callbacks)

	meta, err := sd.source.Song(downloadCtx, songID)
	if err != nil {
		return nil, sd.handleError(classify(downloadCtx, err, ErrorNetworkFailure), "failed to get song metadata", err, callbacks)
	}

	webHLS := meta.Attributes.EnhancedHLS()
	if webHLS == "" {
		return nil, sd.handleError(ErrorALACNotAvailable, "ALAC format not available for this song", nil, callbacks)
	}

	songName := FileName(meta)
	sd.mu.Lock()
	sd.status.SongName = songName
	sd.mu.Unlock()

	filePath := filepath.Join(sd.cfg.OutputDir, songName)
	if fileInfo, err := os.Stat(filePath); err == nil {
		sd.logger.Info("file already exists, skipping", zap.String("path", filePath))
		result := sd.result(filePath, fileInfo.Size(), meta)
		result.Skipped = true
		return sd.complete(result, callbacks), nil
	}

	masterURL := webHLS
	deviceHLS, err := sd.wrapper.EnhancedHLS(downloadCtx, meta.ID)
	switch {
	case err != nil:
		if downloadCtx.Err() != nil {
			return nil, sd.handleError(ErrorCancelled, "download cancelled", downloadCtx.Err(), callbacks)
		}
		sd.logger.Warn("device unavailable, using web player stream", zap.String("song_id", meta.ID), zap.Error(err))
	case strings.HasSuffix(deviceHLS, "m3u8"):
		masterURL = deviceHLS
	}

	stream, err := sd.ExtractMedia(downloadCtx, masterURL)
	if err != nil {
		errType := classify(downloadCtx, err, ErrorNetworkFailure)
		if errors.Is(err, ErrNoALACVariant) {
			errType = ErrorALACNotAvailable
		}
		return nil, sd.handleError(errType, "failed to extract media information", err, callbacks)
	}

	// Phase 2: download the fragmented stream
	sd.updatePhase(PhaseDownloading, callbacks)

	info, err := sd.fetchSong(downloadCtx, stream.URL, callbacks)
	if err != nil {
		return nil, sd.handleError(classify(downloadCtx, err, ErrorNetworkFailure), "failed to download song data", err, callbacks)
	}

	for _, sample := range info.samples {
		if int(sample.descIndex) >= len(stream.Keys) {
			return nil, sd.handleError(ErrorDecryptionFailure, "decryption size mismatch", nil, callbacks)
		}
	}

	// Phase 3: decrypt
	sd.updatePhase(PhaseDecrypting, callbacks)

	decrypted, err := sd.wrapper.Decrypt(downloadCtx, info, stream.Keys, meta.ID, func(done, total int64) {
		sd.reportProgress(PhaseDecrypting, newProgress(done, total), callbacks)
	})
	if err != nil {
		return nil, sd.handleError(classify(downloadCtx, err, ErrorDecryptionFailure), "failed to decrypt song", err, callbacks)
	}

	if err := downloadCtx.Err(); err != nil {
		return nil, sd.handleError(ErrorCancelled, "download cancelled", err, callbacks)
	}

	// Phase 4: write
	sd.updatePhase(PhaseWriting, callbacks)

	size, err := sd.writeFile(downloadCtx, filePath, info, meta, decrypted)
	if err != nil {
		return nil, sd.handleError(classify(downloadCtx, err, ErrorFileSystemError), "failed to write M4A file", err, callbacks)
	}

	return sd.complete(sd.result(filePath, size, meta), callbacks), nil
}

// writeFile writes and tags a hidden sibling of filePath, then renames it into place.
func (sd *SongDownloaderImpl) writeFile(ctx context.Context, filePath string, info *SongInfo, meta *applemusic.Song, data []byte) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), os.ModePerm); err != nil {
		return 0, fmt.Errorf("create output directory: %w", err)
	}

	partial := filepath.Join(filepath.Dir(filePath), ".incomplete-"+filepath.Base(filePath))
	file, err := os.Create(partial)
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	defer os.Remove(partial)

	if err := WriteM4A(mp4.NewWriter(file), info, meta, data); err != nil {
		file.Close()
		return 0, err
	}
	if err := file.Close(); err != nil {
		return 0, err
	}

	if err := sd.applyTags(ctx, partial, meta); err != nil {
		sd.logger.Warn("failed to tag file", zap.String("path", filePath), zap.Error(err))
	}

	if err := os.Rename(partial, filePath); err != nil {
		return 0, err
	}
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return 0, err
	}
	return fileInfo.Size(), nil
}

func (sd *SongDownloaderImpl) result(filePath string, size int64, meta *applemusic.Song) *DownloadResult {
	sd.mu.RLock()
	start := sd.status.StartTime
	sd.mu.RUnlock()

	return &DownloadResult{
		FilePath: filePath,
		SongMeta: &SongMetadata{
			Title:          meta.Attributes.Name,
			Artist:         meta.Attributes.ArtistName,
			Album:          meta.Attributes.AlbumName,
			AppleMusicID:   meta.ID,
			ArtworkURL:     meta.Attributes.Artwork.URL,
			Duration:       time.Duration(meta.Attributes.DurationInMillis) * time.Millisecond,
			DurationMillis: meta.Attributes.DurationInMillis,
		},
		FileSize: size,
		Format:   "m4a",
		Duration: time.Since(start),
	}
}

func (sd *SongDownloaderImpl) complete(result *DownloadResult, callbacks ProgressCallbacks) *DownloadResult {
	sd.updatePhase(PhaseComplete, callbacks)
	if callbacks.OnComplete != nil {
		callbacks.OnComplete(result)
	}
	return result
}

// GetStatus implements the SongDownloader interface
func (sd *SongDownloaderImpl) GetStatus() DownloadStatus {
	sd.mu.RLock()
	defer sd.mu.RUnlock()

	return sd.status
}

// updatePhase updates the current phase and notifies callbacks
func (sd *SongDownloaderImpl) updatePhase(newPhase Phase, callbacks ProgressCallbacks) {
	sd.mu.Lock()
	oldPhase := sd.status.Phase
	sd.status.Phase = newPhase
	sd.status.Progress = Progress{}
	sd.mu.Unlock()

	if callbacks.OnPhaseChange != nil && oldPhase != newPhase {
		callbacks.OnPhaseChange(oldPhase, newPhase)
	}
}

func (sd *SongDownloaderImpl) reportProgress(phase Phase, progress Progress, callbacks ProgressCallbacks) {
	sd.mu.Lock()
	sd.status.Progress = progress
	sd.mu.Unlock()

	if callbacks.OnProgress != nil {
		callbacks.OnProgress(phase, progress)
	}
}

// handleError creates a DownloadError and notifies callbacks
func (sd *SongDownloaderImpl) handleError(errorType ErrorType, message string, cause error, callbacks ProgressCallbacks) error {
	sd.mu.Lock()
	failed := sd.status.Phase
	songName := sd.status.SongName
	sd.status.Phase = PhaseError
	sd.status.Error = cause
	sd.mu.Unlock()

	err := NewDownloadErrorWithCause(errorType, message, cause).WithContext("phase", failed.String())
	if songName != "" {
		err.WithContext("file", songName)
	}

	if callbacks.OnError != nil {
		callbacks.OnError(err)
	}

	return err
}

// classify maps cancellation and rejected credentials onto their own error types.
func classify(ctx context.Context, err error, fallback ErrorType) ErrorType {
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return ErrorCancelled
	case errors.Is(err, applemusic.ErrUnauthorized):
		return ErrorUnauthorized
	default:
		return fallback
	}
}

func (sd *SongDownloaderImpl) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := sd.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", rawURL, resp.Status)
	}
	return resp, nil
}

func (sd *SongDownloaderImpl) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := sd.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// ProgressReader wraps an io.Reader to provide progress callbacks
type ProgressReader struct {
	reader     io.Reader
	total      int64
	read       int64
	onProgress func(read, total int64)
}

func (pr *ProgressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	pr.read += int64(n)
	if pr.onProgress != nil {
		pr.onProgress(pr.read, pr.total)
	}
	return
}

// fetchSong downloads the fragmented stream and demuxes it
func (sd *SongDownloaderImpl) fetchSong(ctx context.Context, streamURL string, callbacks ProgressCallbacks) (*SongInfo, error) {
	resp, err := sd.get(ctx, streamURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	rawSong, err := io.ReadAll(&ProgressReader{
		reader: resp.Body,
		total:  resp.ContentLength,
		onProgress: func(read, total int64) {
			sd.reportProgress(PhaseDownloading, newProgress(read, total), callbacks)
		},
	})
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return parseFragments(bytes.NewReader(rawSong))
}
