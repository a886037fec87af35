package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	skipColor    = color.New(color.FgYellow)
	failColor    = color.New(color.FgRed)
)

// TerminalProgressReporter implements ProgressReporter with progress bars on a terminal
type TerminalProgressReporter struct {
	out    io.Writer
	logger *zap.Logger

	mu        sync.Mutex
	songName  string
	isActive  bool
	startTime time.Time
	bar       *progressbar.ProgressBar
	barPhase  Phase
}

// NewTerminalProgressReporter creates a new TerminalProgressReporter writing to out
func NewTerminalProgressReporter(out io.Writer, logger *zap.Logger) *TerminalProgressReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TerminalProgressReporter{out: out, logger: logger}
}

// StartTracking begins progress tracking for a song
func (tr *TerminalProgressReporter) StartTracking(ctx context.Context, songName string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tr.isActive {
		return NewDownloadError(ErrorUnknown, "progress tracking is already active")
	}

	tr.songName = songName
	tr.isActive = true
	tr.startTime = time.Now()
	tr.barPhase = -1

	_, err := titleColor.Fprintf(tr.out, "♪ %s\n", songName)
	return err
}

// UpdateProgress redraws the bar of the current phase
func (tr *TerminalProgressReporter) UpdateProgress(phase Phase, progress Progress) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if !tr.isActive || (phase != PhaseDownloading && phase != PhaseDecrypting) {
		return nil
	}

	if tr.bar == nil || tr.barPhase != phase {
		tr.finishBar()
		tr.bar = tr.newBar(phase, progress.TotalBytes)
		tr.barPhase = phase
	}
	return tr.bar.Set64(progress.BytesProcessed)
}

// ReportPhaseChange reports a transition between phases
func (tr *TerminalProgressReporter) ReportPhaseChange(oldPhase, newPhase Phase) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if !tr.isActive {
		return nil
	}
	if tr.barPhase != newPhase {
		tr.finishBar()
	}
	tr.logger.Debug("phase change",
		zap.String("song", tr.songName),
		zap.Stringer("from", oldPhase),
		zap.Stringer("to", newPhase))
	return nil
}

// ReportError reports an error that occurred during processing
func (tr *TerminalProgressReporter) ReportError(err error) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if !tr.isActive {
		return nil
	}
	tr.finishBar()

	errorMsg := "an error occurred"
	var downloadErr *DownloadError
	if errors.As(err, &downloadErr) {
		errorMsg = downloadErr.Message
	} else if err != nil {
		errorMsg = err.Error()
	}

	_, werr := failColor.Fprintf(tr.out, "✖ %s: %s (after %s)\n",
		tr.songName, errorMsg, time.Since(tr.startTime).Round(time.Second))
	return werr
}

// ReportComplete reports successful completion with summary information
func (tr *TerminalProgressReporter) ReportComplete(result *DownloadResult) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if !tr.isActive {
		return nil
	}
	tr.finishBar()

	if result.Skipped {
		_, err := skipColor.Fprintf(tr.out, "↷ already downloaded: %s\n", result.FilePath)
		return err
	}
	_, err := successColor.Fprintf(tr.out, "✔ saved %s (%s in %s)\n",
		result.FilePath, formatBytes(result.FileSize), result.Duration.Round(time.Second))
	return err
}

// Stop stops progress tracking and cleans up resources
func (tr *TerminalProgressReporter) Stop() {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.finishBar()
	tr.isActive = false
	tr.songName = ""
}

// IsActive returns whether the reporter is currently tracking progress
func (tr *TerminalProgressReporter) IsActive() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.isActive
}

func (tr *TerminalProgressReporter) newBar(phase Phase, total int64) *progressbar.ProgressBar {
	if total <= 0 {
		total = -1
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(tr.out),
		progressbar.OptionSetDescription(phaseDescription(phase)),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetElapsedTime(false),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowCount(),
		progressbar.OptionShowBytes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// finishBar closes the current bar; callers hold tr.mu.
func (tr *TerminalProgressReporter) finishBar() {
	if tr.bar == nil {
		return
	}
	_ = tr.bar.Finish()
	tr.bar = nil
	tr.barPhase = -1
}

func phaseDescription(phase Phase) string {
	switch phase {
	case PhaseValidating:
		return "Validating"
	case PhaseDownloading:
		return "Downloading"
	case PhaseDecrypting:
		return "Decrypting"
	case PhaseWriting:
		return "Writing"
	case PhaseComplete:
		return "Complete"
	case PhaseError:
		return "Error"
	default:
		return "Processing"
	}
}

// formatBytes formats byte count into human-readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), units[exp])
}
