package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facefinder/internal/config"
	"facefinder/internal/hub"
	"facefinder/internal/logger"
	"facefinder/internal/model"
)

type fakeHistory struct {
	mu       sync.Mutex
	jobs     []model.JobRecord
	inserted chan struct{}
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{inserted: make(chan struct{}, 4)}
}

func (f *fakeHistory) InsertJob(rec *model.JobRecord) (int64, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, *rec)
	id := int64(len(f.jobs))
	f.mu.Unlock()
	f.inserted <- struct{}{}
	return id, nil
}

func (f *fakeHistory) InsertDetections(jobID int64, detections []model.Detection) error {
	return nil
}

func (f *fakeHistory) RecentJobs(limit int) ([]model.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.JobRecord, len(f.jobs))
	copy(out, f.jobs)
	return out, nil
}

func (f *fakeHistory) DetectionsForJob(jobID int64) ([]model.Detection, error) {
	return nil, nil
}

func newTestController(history *fakeHistory) *Controller {
	cfg := &config.Config{
		ProgressBufferSize: 3,
		EventQueueSize:     8,
		EnqueueTimeoutMS:   50,
		WorkerStartTimeout: 1,
		DetectorFamily:     "general",
	}
	log := logger.NewStderrLogger()
	h := hub.New(cfg.EventQueueSize, 50*time.Millisecond, log)
	return NewController(cfg, h, history, log)
}

func TestProgressBufferKeepsLastN(t *testing.T) {
	ctrl := newTestController(newFakeHistory())

	for _, msg := range []string{"one", "two", "three", "four", "five"} {
		ctrl.onEvent(model.NewEvent(model.EventProgress, map[string]interface{}{"message": msg}))
	}

	assert.Equal(t, []string{"three", "four", "five"}, ctrl.Progress())
}

func TestEventsReachHubObservers(t *testing.T) {
	ctrl := newTestController(newFakeHistory())
	sub := ctrl.Hub().Subscribe()
	defer ctrl.Hub().Unsubscribe(sub.ID)

	ctrl.onEvent(model.NewEvent(model.EventProgress, map[string]interface{}{"message": "Image 1/2 complete"}))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, model.EventProgress, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("event never reached the observer")
	}
}

func TestCompletionEventArchivesJob(t *testing.T) {
	history := newFakeHistory()
	ctrl := newTestController(history)

	ctrl.mu.Lock()
	ctrl.currentJob = model.JobSpec{InputPath: "/in/batch", Model: "yolov8n.pt", Confidence: 0.6}
	ctrl.mu.Unlock()

	// Payload shaped the way it arrives from a live worker.
	ctrl.onEvent(model.NewEvent(model.EventCompletion, map[string]interface{}{
		"status":        "completed",
		"results_count": 0,
		"total_files":   4,
	}))

	select {
	case <-history.inserted:
	case <-time.After(2 * time.Second):
		t.Fatal("completion was never archived")
	}

	jobs, err := ctrl.History(10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "/in/batch", jobs[0].InputPath)
	assert.Equal(t, "yolov8n.pt", jobs[0].Model)
	assert.Equal(t, "completed", jobs[0].Status)
	assert.Equal(t, 4, jobs[0].TotalFiles)
	assert.Equal(t, 0.6, jobs[0].Confidence)
}

func TestSynthesizedCompletionIsArchivedAsFailed(t *testing.T) {
	history := newFakeHistory()
	ctrl := newTestController(history)

	ctrl.onEvent(model.NewEvent(model.EventCompletion, model.Completion{
		Status: "failed",
		Error:  "worker process terminated unexpectedly",
	}))

	select {
	case <-history.inserted:
	case <-time.After(2 * time.Second):
		t.Fatal("completion was never archived")
	}

	jobs, err := ctrl.History(10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "failed", jobs[0].Status)
}
