package downloader

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go-alac-dl/applemusic"
)

// Phase represents the current phase of the download process
type Phase int

const (
	PhaseValidating Phase = iota
	PhaseDownloading
	PhaseDecrypting
	PhaseWriting
	PhaseComplete
	PhaseError
)

// String returns the string representation of the phase
func (p Phase) String() string {
	switch p {
	case PhaseValidating:
		return "validating"
	case PhaseDownloading:
		return "downloading"
	case PhaseDecrypting:
		return "decrypting"
	case PhaseWriting:
		return "writing"
	case PhaseComplete:
		return "complete"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// Progress represents the current progress of an operation
type Progress struct {
	BytesProcessed int64   `json:"bytes_processed"`
	TotalBytes     int64   `json:"total_bytes"`
	Percentage     float64 `json:"percentage"`
}

func newProgress(done, total int64) Progress {
	p := Progress{BytesProcessed: done, TotalBytes: total}
	if total > 0 {
		p.Percentage = float64(done) / float64(total) * 100
	}
	return p
}

// ProgressCallbacks defines callback functions for progress reporting
type ProgressCallbacks struct {
	OnProgress    func(phase Phase, progress Progress)
	OnPhaseChange func(oldPhase, newPhase Phase)
	OnError       func(err error)
	OnComplete    func(result *DownloadResult)
}

// DownloadResult contains the result of a successful download
type DownloadResult struct {
	FilePath string        `json:"file_path"`
	SongMeta *SongMetadata `json:"song_meta"`
	Duration time.Duration `json:"duration"`
	FileSize int64         `json:"file_size"`
	Format   string        `json:"format"`
	Skipped  bool          `json:"skipped"` // file was already on disk
}

// SongMetadata contains metadata about the downloaded song
type SongMetadata struct {
	Title          string        `json:"title"`
	Artist         string        `json:"artist"`
	Album          string        `json:"album"`
	Duration       time.Duration `json:"duration"`
	DurationMillis int           `json:"duration_millis"`
	ArtworkURL     string        `json:"artwork_url"`
	AppleMusicID   string        `json:"apple_music_id"`
}

// SongDownloader interface defines the contract for downloading songs
type SongDownloader interface {
	// Download fetches, decrypts and writes the catalog song with the given ID
	Download(ctx context.Context, songID string, callbacks ProgressCallbacks) (*DownloadResult, error)

	// GetStatus returns the status of the current or last download
	GetStatus() DownloadStatus
}

// DownloadStatus represents the current status of a download
type DownloadStatus struct {
	Phase     Phase     `json:"phase"`
	Progress  Progress  `json:"progress"`
	StartTime time.Time `json:"start_time"`
	SongName  string    `json:"song_name"`
	IsActive  bool      `json:"is_active"`
	Error     error     `json:"error,omitempty"`
}

// ProgressReporter interface defines the contract for reporting progress
type ProgressReporter interface {
	// StartTracking begins progress tracking for a song
	StartTracking(ctx context.Context, songName string) error

	// UpdateProgress reports progress for the current phase
	UpdateProgress(phase Phase, progress Progress) error

	// ReportPhaseChange reports a transition between phases
	ReportPhaseChange(oldPhase, newPhase Phase) error

	// ReportError reports an error that occurred during processing
	ReportError(err error) error

	// ReportComplete reports successful completion with summary information
	ReportComplete(result *DownloadResult) error

	// Stop stops progress tracking and cleans up resources
	Stop()
}

// MetadataSource is the catalog surface the downloaders read from.
// *applemusic.Catalog implements it.
type MetadataSource interface {
	HTTPClient() *http.Client
	Song(ctx context.Context, id string) (*applemusic.Song, error)
	Album(ctx context.Context, id string) (*applemusic.Album, error)
	Playlist(ctx context.Context, id string) (*applemusic.Playlist, error)
	ReleaseYear(ctx context.Context, song *applemusic.Song) int
	ArtworkURL(ctx context.Context, song *applemusic.Song) string
}

// QueueItem is one entry of a download queue
type QueueItem struct {
	SongID string
	Name   string // display name, empty when not known before download
	Index  int    // 1-based position in the queue
	Total  int
}

// Label returns a human readable name for progress output
func (q QueueItem) Label() string {
	if q.Name != "" {
		return q.Name
	}
	return fmt.Sprintf("song %s", q.SongID)
}
