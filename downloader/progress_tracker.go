package downloader

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultUpdateInterval is how often a ProgressTracker redraws progress
const DefaultUpdateInterval = 200 * time.Millisecond

// ProgressTracker forwards download callbacks to a ProgressReporter,
// coalescing progress updates to one per interval.
type ProgressTracker struct {
	// Configuration
	updateInterval time.Duration
	reporter       ProgressReporter
	logger         *zap.Logger

	// State management
	mu              sync.RWMutex
	isRunning       bool
	currentPhase    Phase
	currentProgress Progress

	// Goroutine management
	ctx        context.Context
	cancel     context.CancelFunc
	ticker     *time.Ticker
	updateChan chan progressUpdate
	doneChan   chan struct{}
}

// progressUpdate represents an internal progress update
type progressUpdate struct {
	phase    Phase
	progress Progress
}

// NewProgressTracker creates a new ProgressTracker with the specified reporter
func NewProgressTracker(reporter ProgressReporter, logger *zap.Logger) *ProgressTracker {
	return NewProgressTrackerWithInterval(reporter, DefaultUpdateInterval, logger)
}

// NewProgressTrackerWithInterval creates a ProgressTracker with a custom update interval
func NewProgressTrackerWithInterval(reporter ProgressReporter, interval time.Duration, logger *zap.Logger) *ProgressTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressTracker{
		updateInterval: interval,
		reporter:       reporter,
		logger:         logger,
		currentPhase:   -1, // no phase seen yet
	}
}

// Start begins the progress tracking with periodic updates
func (pt *ProgressTracker) Start(ctx context.Context) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if pt.isRunning {
		return NewDownloadError(ErrorUnknown, "progress tracker is already running")
	}

	pt.updateChan = make(chan progressUpdate, 64)
	pt.doneChan = make(chan struct{})
	pt.ctx, pt.cancel = context.WithCancel(ctx)
	pt.ticker = time.NewTicker(pt.updateInterval)
	pt.isRunning = true

	go pt.updateLoop()

	return nil
}

// Stop stops the update loop and the reporter
func (pt *ProgressTracker) Stop() {
	pt.stopLoop()
	if pt.reporter != nil {
		pt.reporter.Stop()
	}
}

// stopLoop stops the update loop and waits for it to exit
func (pt *ProgressTracker) stopLoop() {
	pt.mu.Lock()
	if !pt.isRunning {
		pt.mu.Unlock()
		return
	}
	pt.cancel()
	pt.isRunning = false
	done := pt.doneChan
	pt.mu.Unlock()

	<-done

	pt.mu.Lock()
	if pt.ticker != nil {
		pt.ticker.Stop()
		pt.ticker = nil
	}
	pt.mu.Unlock()
}

// UpdateProgress updates the current progress information
func (pt *ProgressTracker) UpdateProgress(phase Phase, progress Progress) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	if !pt.isRunning {
		return
	}

	select {
	case pt.updateChan <- progressUpdate{phase: phase, progress: progress}:
	default:
		// drop rather than block the download; the next update carries newer state
	}
}

// Callbacks returns download callbacks that feed this tracker. Completion and
// errors stop the update loop before reaching the reporter so they are always
// reported after any progress.
func (pt *ProgressTracker) Callbacks() ProgressCallbacks {
	return ProgressCallbacks{
		OnProgress: pt.UpdateProgress,
		OnPhaseChange: func(_, newPhase Phase) {
			pt.UpdateProgress(newPhase, Progress{})
		},
		OnError: func(err error) {
			pt.stopLoop()
			if pt.reporter != nil {
				pt.logReporterError("error", pt.reporter.ReportError(err))
			}
		},
		OnComplete: func(result *DownloadResult) {
			pt.stopLoop()
			if pt.reporter != nil {
				pt.logReporterError("complete", pt.reporter.ReportComplete(result))
			}
		},
	}
}

func (pt *ProgressTracker) logReporterError(event string, err error) {
	if err != nil {
		pt.logger.Debug("progress reporter failed", zap.String("event", event), zap.Error(err))
	}
}

// updateLoop runs the main update loop in a separate goroutine
func (pt *ProgressTracker) updateLoop() {
	defer close(pt.doneChan)

	var lastReportedPhase Phase = -1
	var lastReported Progress

	for {
		select {
		case <-pt.ctx.Done():
			return

		case update := <-pt.updateChan:
			pt.mu.Lock()
			oldPhase := pt.currentPhase
			pt.currentPhase = update.phase
			pt.currentProgress = update.progress
			pt.mu.Unlock()

			if oldPhase != update.phase && pt.reporter != nil {
				pt.logReporterError("phase_change", pt.reporter.ReportPhaseChange(oldPhase, update.phase))
			}

		case <-pt.ticker.C:
			pt.mu.RLock()
			currentPhase := pt.currentPhase
			currentProgress := pt.currentProgress
			pt.mu.RUnlock()

			if pt.reporter == nil || currentPhase < 0 || currentProgress.TotalBytes == 0 {
				continue
			}
			if currentPhase == lastReportedPhase && currentProgress == lastReported {
				continue
			}
			pt.logReporterError("progress", pt.reporter.UpdateProgress(currentPhase, currentProgress))
			lastReportedPhase = currentPhase
			lastReported = currentProgress
		}
	}
}
