package downloader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// MockProgressReporter is a mock implementation of ProgressReporter for testing
type MockProgressReporter struct {
	mu                  sync.RWMutex
	startTrackingCalls  []string
	updateProgressCalls []UpdateProgressCall
	phaseChangeCalls    []PhaseChangeCall
	errorCalls          []error
	completeCalls       []*DownloadResult
	events              []string
	stopCalls           int
	shouldFailUpdate    bool
}

type UpdateProgressCall struct {
	Phase    Phase
	Progress Progress
}

type PhaseChangeCall struct {
	OldPhase Phase
	NewPhase Phase
}

func NewMockProgressReporter() *MockProgressReporter {
	return &MockProgressReporter{}
}

func (m *MockProgressReporter) StartTracking(ctx context.Context, songName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startTrackingCalls = append(m.startTrackingCalls, songName)
	m.events = append(m.events, "start")
	return nil
}

func (m *MockProgressReporter) UpdateProgress(phase Phase, progress Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateProgressCalls = append(m.updateProgressCalls, UpdateProgressCall{Phase: phase, Progress: progress})
	m.events = append(m.events, "progress")
	if m.shouldFailUpdate {
		return NewDownloadError(ErrorUnknown, "mock update error")
	}
	return nil
}

func (m *MockProgressReporter) ReportPhaseChange(oldPhase, newPhase Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phaseChangeCalls = append(m.phaseChangeCalls, PhaseChangeCall{OldPhase: oldPhase, NewPhase: newPhase})
	m.events = append(m.events, "phase:"+newPhase.String())
	return nil
}

func (m *MockProgressReporter) ReportError(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCalls = append(m.errorCalls, err)
	m.events = append(m.events, "error")
	return nil
}

func (m *MockProgressReporter) ReportComplete(result *DownloadResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeCalls = append(m.completeCalls, result)
	m.events = append(m.events, "complete")
	return nil
}

func (m *MockProgressReporter) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
	m.events = append(m.events, "stop")
}

func (m *MockProgressReporter) GetUpdateProgressCalls() []UpdateProgressCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	calls := make([]UpdateProgressCall, len(m.updateProgressCalls))
	copy(calls, m.updateProgressCalls)
	return calls
}

func (m *MockProgressReporter) GetPhaseChangeCalls() []PhaseChangeCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	calls := make([]PhaseChangeCall, len(m.phaseChangeCalls))
	copy(calls, m.phaseChangeCalls)
	return calls
}

func (m *MockProgressReporter) GetEvents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]string, len(m.events))
	copy(events, m.events)
	return events
}

func (m *MockProgressReporter) GetStopCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopCalls
}

func TestProgressTracker_NewProgressTracker(t *testing.T) {
	reporter := NewMockProgressReporter()
	tracker := NewProgressTracker(reporter, nil)

	if tracker == nil {
		t.Fatal("NewProgressTracker returned nil")
	}

	if tracker.updateInterval != DefaultUpdateInterval {
		t.Errorf("Expected update interval to be %v, got %v", DefaultUpdateInterval, tracker.updateInterval)
	}

	if tracker.reporter != reporter {
		t.Error("Reporter not set correctly")
	}

	if tracker.isRunning {
		t.Error("Tracker should not be running initially")
	}
}

func TestProgressTracker_StartAndStop(t *testing.T) {
	reporter := NewMockProgressReporter()
	tracker := NewProgressTracker(reporter, nil)
	ctx := context.Background()

	if err := tracker.Start(ctx); err != nil {
		t.Fatalf("Failed to start tracker: %v", err)
	}

	if !tracker.running() {
		t.Error("Tracker should be running after Start()")
	}

	if err := tracker.Start(ctx); err == nil {
		t.Error("Expected error when starting already running tracker")
	}

	tracker.Stop()

	if tracker.running() {
		t.Error("Tracker should not be running after Stop()")
	}

	if reporter.GetStopCalls() != 1 {
		t.Errorf("Expected 1 Stop() call on reporter, got %d", reporter.GetStopCalls())
	}
}

func TestProgressTracker_UpdateProgress(t *testing.T) {
	reporter := NewMockProgressReporter()
	tracker := NewProgressTrackerWithInterval(reporter, 20*time.Millisecond, nil)

	if err := tracker.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start tracker: %v", err)
	}
	defer tracker.Stop()

	progress := newProgress(1024, 2048)
	tracker.UpdateProgress(PhaseDownloading, progress)

	time.Sleep(100 * time.Millisecond)

	phase, current := tracker.snapshot()
	if phase != PhaseDownloading {
		t.Errorf("Expected phase %v, got %v", PhaseDownloading, phase)
	}
	if current != progress {
		t.Errorf("Expected progress %+v, got %+v", progress, current)
	}
	if current.Percentage != 50 {
		t.Errorf("Expected 50%%, got %v", current.Percentage)
	}
}

func TestProgressTracker_PhaseChangeReporting(t *testing.T) {
	reporter := NewMockProgressReporter()
	tracker := NewProgressTrackerWithInterval(reporter, 20*time.Millisecond, nil)

	if err := tracker.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start tracker: %v", err)
	}
	defer tracker.Stop()

	callbacks := tracker.Callbacks()
	callbacks.OnPhaseChange(PhaseValidating, PhaseValidating)
	time.Sleep(30 * time.Millisecond)
	callbacks.OnPhaseChange(PhaseValidating, PhaseDownloading)
	callbacks.OnProgress(PhaseDownloading, newProgress(100, 1000))
	time.Sleep(30 * time.Millisecond)
	callbacks.OnPhaseChange(PhaseDownloading, PhaseDecrypting)
	time.Sleep(30 * time.Millisecond)

	expected := []PhaseChangeCall{
		{-1, PhaseValidating},
		{PhaseValidating, PhaseDownloading},
		{PhaseDownloading, PhaseDecrypting},
	}
	phaseChanges := reporter.GetPhaseChangeCalls()
	if len(phaseChanges) != len(expected) {
		t.Fatalf("Expected %d phase changes, got %d: %+v", len(expected), len(phaseChanges), phaseChanges)
	}
	for i, want := range expected {
		if phaseChanges[i] != want {
			t.Errorf("Phase change %d: expected %v->%v, got %v->%v",
				i, want.OldPhase, want.NewPhase, phaseChanges[i].OldPhase, phaseChanges[i].NewPhase)
		}
	}
}

func TestProgressTracker_PeriodicUpdatesAreCoalesced(t *testing.T) {
	reporter := NewMockProgressReporter()
	tracker := NewProgressTrackerWithInterval(reporter, 20*time.Millisecond, nil)

	if err := tracker.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start tracker: %v", err)
	}
	defer tracker.Stop()

	tracker.UpdateProgress(PhaseDownloading, newProgress(1024, 2048))
	time.Sleep(150 * time.Millisecond)

	updateCalls := reporter.GetUpdateProgressCalls()
	if len(updateCalls) != 1 {
		t.Fatalf("Expected unchanged progress to be reported once, got %d", len(updateCalls))
	}
	if updateCalls[0].Phase != PhaseDownloading || updateCalls[0].Progress.BytesProcessed != 1024 {
		t.Errorf("Unexpected update %+v", updateCalls[0])
	}
}

func TestProgressTracker_SkipsPhasesWithoutTotals(t *testing.T) {
	reporter := NewMockProgressReporter()
	tracker := NewProgressTrackerWithInterval(reporter, 10*time.Millisecond, nil)

	if err := tracker.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start tracker: %v", err)
	}
	defer tracker.Stop()

	tracker.UpdateProgress(PhaseWriting, Progress{})
	time.Sleep(60 * time.Millisecond)

	if calls := reporter.GetUpdateProgressCalls(); len(calls) != 0 {
		t.Errorf("Expected no progress updates, got %d", len(calls))
	}
}

func TestProgressTracker_UpdateProgressWhenNotRunning(t *testing.T) {
	reporter := NewMockProgressReporter()
	tracker := NewProgressTracker(reporter, nil)

	tracker.UpdateProgress(PhaseDownloading, Progress{BytesProcessed: 100})

	phase, progress := tracker.snapshot()
	if phase != -1 || progress.BytesProcessed != 0 {
		t.Error("Progress should not be updated when tracker is not running")
	}
}

func TestProgressTracker_CompletionStopsUpdates(t *testing.T) {
	reporter := NewMockProgressReporter()
	tracker := NewProgressTrackerWithInterval(reporter, 10*time.Millisecond, nil)

	if err := tracker.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start tracker: %v", err)
	}

	callbacks := tracker.Callbacks()
	callbacks.OnProgress(PhaseDecrypting, newProgress(10, 20))
	time.Sleep(40 * time.Millisecond)
	callbacks.OnComplete(&DownloadResult{FilePath: "downloads/x.m4a"})

	if tracker.running() {
		t.Error("Tracker should stop its loop on completion")
	}

	tracker.Stop()

	events := reporter.GetEvents()
	if len(events) < 2 || events[len(events)-2] != "complete" || events[len(events)-1] != "stop" {
		t.Errorf("Expected completion then stop last, got %v", events)
	}
}

func TestProgressTracker_ErrorIsForwarded(t *testing.T) {
	reporter := NewMockProgressReporter()
	tracker := NewProgressTracker(reporter, nil)

	if err := tracker.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start tracker: %v", err)
	}
	defer tracker.Stop()

	cause := NewDownloadError(ErrorDecryptionFailure, "failed to decrypt song")
	tracker.Callbacks().OnError(cause)

	reporter.mu.RLock()
	defer reporter.mu.RUnlock()
	if len(reporter.errorCalls) != 1 || !errors.Is(reporter.errorCalls[0], cause) {
		t.Errorf("Expected forwarded error, got %v", reporter.errorCalls)
	}
}

func TestProgressTracker_ContextCancellation(t *testing.T) {
	reporter := NewMockProgressReporter()
	tracker := NewProgressTrackerWithInterval(reporter, 50*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())

	if err := tracker.Start(ctx); err != nil {
		t.Fatalf("Failed to start tracker: %v", err)
	}

	cancel()
	time.Sleep(100 * time.Millisecond)

	if !tracker.running() {
		t.Error("Tracker should still report as running until Stop() is called")
	}

	tracker.Stop()

	if tracker.running() {
		t.Error("Tracker should not be running after Stop()")
	}
}

func TestProgressTracker_ResourceCleanup(t *testing.T) {
	reporter := NewMockProgressReporter()
	tracker := NewProgressTracker(reporter, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := tracker.Start(ctx); err != nil {
			t.Fatalf("Failed to start tracker on iteration %d: %v", i, err)
		}

		tracker.UpdateProgress(PhaseDownloading, Progress{BytesProcessed: int64(i * 100)})
		time.Sleep(10 * time.Millisecond)

		tracker.Stop()

		if tracker.running() {
			t.Errorf("Tracker should not be running after Stop() on iteration %d", i)
		}
	}

	if reporter.GetStopCalls() != 3 {
		t.Errorf("Expected 3 Stop() calls on reporter, got %d", reporter.GetStopCalls())
	}
}

func TestProgressTracker_ConcurrentUpdates(t *testing.T) {
	reporter := NewMockProgressReporter()
	tracker := NewProgressTrackerWithInterval(reporter, 50*time.Millisecond, nil)

	if err := tracker.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start tracker: %v", err)
	}
	defer tracker.Stop()

	var wg sync.WaitGroup
	numGoroutines := 10
	updatesPerGoroutine := 5

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(goroutineID int) {
			defer wg.Done()
			for j := 0; j < updatesPerGoroutine; j++ {
				tracker.UpdateProgress(PhaseDownloading, newProgress(int64(goroutineID*100+j), 1000))
				time.Sleep(5 * time.Millisecond)
			}
		}(i)
	}

	wg.Wait()
	time.Sleep(100 * time.Millisecond)

	phase, progress := tracker.snapshot()
	if phase != PhaseDownloading {
		t.Errorf("Expected final phase to be %v, got %v", PhaseDownloading, phase)
	}
	if progress.TotalBytes != 1000 {
		t.Errorf("Expected total bytes to be 1000, got %d", progress.TotalBytes)
	}
}

func (pt *ProgressTracker) running() bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.isRunning
}

func (pt *ProgressTracker) snapshot() (Phase, Progress) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.currentPhase, pt.currentProgress
}
