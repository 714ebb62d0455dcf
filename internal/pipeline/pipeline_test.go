package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facefinder/internal/logger"
	"facefinder/internal/media"
	"facefinder/internal/model"
)

type fakeDetector struct {
	mu         sync.Mutex
	loadErr    error
	loadGate   chan struct{} // Load blocks until closed, when set
	detectGate chan struct{} // Detect blocks until closed, when set
	detections map[string][]model.Detection
	detectErr  map[string]error
	calls      int
}

func (d *fakeDetector) Load(modelID string) error {
	if d.loadGate != nil {
		<-d.loadGate
	}
	return d.loadErr
}

func (d *fakeDetector) Detect(imagePath string, confidence float64) ([]model.Detection, error) {
	if d.detectGate != nil {
		<-d.detectGate
	}
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	base := filepath.Base(imagePath)
	if err, ok := d.detectErr[base]; ok {
		return nil, err
	}
	out := make([]model.Detection, len(d.detections[base]))
	copy(out, d.detections[base])
	for i := range out {
		out[i].SourcePath = imagePath
	}
	return out, nil
}

func writeImages(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("img"), 0644))
	}
}

func newTestEngine(det Detector, opener media.VideoOpener) (*Engine, chan model.Event) {
	events := make(chan model.Event, 256)
	return New(det, opener, events, logger.NewStderrLogger()), events
}

func collectUntilCompletion(t *testing.T, events <-chan model.Event) []model.Event {
	t.Helper()
	var out []model.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			out = append(out, ev)
			if ev.Kind == model.EventCompletion {
				return out
			}
		case <-timeout:
			t.Fatal("timed out waiting for completion event")
		}
	}
}

func completionPayload(t *testing.T, ev model.Event) model.Completion {
	t.Helper()
	done, ok := ev.Data.(model.Completion)
	require.True(t, ok, "completion event payload has wrong type")
	return done
}

func TestJobEmitsExactlyOneCompletion(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg", "b.jpg")

	det := &fakeDetector{detections: map[string][]model.Detection{
		"a.jpg": {{X: 1, Y: 2, Width: 3, Height: 4, Confidence: 0.9}},
	}}
	engine, events := newTestEngine(det, nil)

	require.NoError(t, engine.Start(model.JobSpec{InputPath: dir, Confidence: 0.5, Model: "yolov8n.pt"}))
	collected := collectUntilCompletion(t, events)

	completions := 0
	for _, ev := range collected {
		if ev.Kind == model.EventCompletion {
			completions++
		}
	}
	assert.Equal(t, 1, completions)

	// Nothing after the completion event.
	select {
	case ev := <-events:
		t.Fatalf("unexpected event after completion: %v", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}

	done := completionPayload(t, collected[len(collected)-1])
	assert.Equal(t, "completed", done.Status)
	assert.Equal(t, 1, done.ResultsCount)
	assert.Equal(t, 2, done.TotalFiles)

	status, count := engine.Snapshot()
	assert.Equal(t, model.StatusCompleted, status)
	assert.Equal(t, 1, count)
}

func TestFailedModelLoadStillCompletes(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg")

	det := &fakeDetector{loadErr: fmt.Errorf("no face detector environment available for model retinaface")}
	engine, events := newTestEngine(det, nil)

	require.NoError(t, engine.Start(model.JobSpec{InputPath: dir, Model: "retinaface"}))
	collected := collectUntilCompletion(t, events)

	done := completionPayload(t, collected[len(collected)-1])
	assert.Equal(t, "failed", done.Status)
	assert.Contains(t, done.Error, "retinaface")

	status, _ := engine.Snapshot()
	assert.Equal(t, model.StatusFailed, status)
}

func TestProgressCountsNeverDecrease(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg", "b.jpg", "c.jpg", "d.jpg")

	det := &fakeDetector{detections: map[string][]model.Detection{
		"a.jpg": {{Confidence: 0.9}},
		"c.jpg": {{Confidence: 0.8}, {Confidence: 0.7}},
	}}
	engine, events := newTestEngine(det, nil)

	require.NoError(t, engine.Start(model.JobSpec{InputPath: dir}))
	collected := collectUntilCompletion(t, events)

	lastProcessed, lastDetections := 0, 0
	for _, ev := range collected {
		p, ok := ev.Data.(model.Progress)
		if !ok {
			continue
		}
		assert.GreaterOrEqual(t, p.Processed, lastProcessed, "processed count decreased")
		assert.GreaterOrEqual(t, p.TotalDetections, lastDetections, "detection count decreased")
		lastProcessed = p.Processed
		lastDetections = p.TotalDetections
	}
	assert.Equal(t, 4, lastProcessed)
	assert.Equal(t, 3, lastDetections)
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg", "b.jpg")

	gate := make(chan struct{})
	det := &fakeDetector{
		detectGate: gate,
		detections: map[string][]model.Detection{"a.jpg": {{Confidence: 0.9}}},
	}
	engine, events := newTestEngine(det, nil)

	require.NoError(t, engine.Start(model.JobSpec{InputPath: dir}))

	err := engine.Start(model.JobSpec{InputPath: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	close(gate)
	collected := collectUntilCompletion(t, events)

	// The rejected start did not corrupt the running job.
	done := completionPayload(t, collected[len(collected)-1])
	assert.Equal(t, "completed", done.Status)
	assert.Equal(t, 1, done.ResultsCount)
}

func TestStopBeforeFirstFileYieldsStoppedCompletion(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg", "b.jpg")

	loadGate := make(chan struct{})
	det := &fakeDetector{loadGate: loadGate}
	engine, events := newTestEngine(det, nil)

	require.NoError(t, engine.Start(model.JobSpec{InputPath: dir}))
	engine.Stop()
	close(loadGate)

	collected := collectUntilCompletion(t, events)
	done := completionPayload(t, collected[len(collected)-1])
	assert.Equal(t, "stopped", done.Status)
	assert.Equal(t, 0, done.ResultsCount)

	status, _ := engine.Snapshot()
	assert.Equal(t, model.StatusStopped, status)
	assert.Equal(t, 0, det.calls, "cancellation must take effect at the file boundary")
}

func TestPerFileErrorsDoNotAbortBatch(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg", "b.jpg", "c.jpg")

	det := &fakeDetector{
		detections: map[string][]model.Detection{
			"a.jpg": {{Confidence: 0.9}},
			"c.jpg": {{Confidence: 0.8}},
		},
		detectErr: map[string]error{"b.jpg": fmt.Errorf("corrupt image")},
	}
	engine, events := newTestEngine(det, nil)

	require.NoError(t, engine.Start(model.JobSpec{InputPath: dir}))
	collected := collectUntilCompletion(t, events)

	errorEvents := 0
	for _, ev := range collected {
		if ev.Kind == model.EventError {
			errorEvents++
		}
	}
	assert.Equal(t, 1, errorEvents)

	done := completionPayload(t, collected[len(collected)-1])
	assert.Equal(t, "completed", done.Status)
	assert.Equal(t, 2, done.ResultsCount)
}

type fakeFrameSource struct {
	fps        float64
	frameCount int
	sampled    []int
	onSample   func(index int)
}

func (s *fakeFrameSource) FPS() float64    { return s.fps }
func (s *fakeFrameSource) FrameCount() int { return s.frameCount }

func (s *fakeFrameSource) SampleFrame(index int, dir string) (string, error) {
	s.sampled = append(s.sampled, index)
	if s.onSample != nil {
		s.onSample(index)
	}
	path := filepath.Join(dir, fmt.Sprintf("temp_frame_%d.jpg", index))
	return path, os.WriteFile(path, []byte("frame"), 0644)
}

func (s *fakeFrameSource) Close() error { return nil }

func TestVideoSamplingOncePerSecond(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp4"), []byte("vid"), 0644))

	src := &fakeFrameSource{fps: 2, frameCount: 5}
	det := &fakeDetector{detections: map[string][]model.Detection{}}
	for _, idx := range []int{0, 2, 4} {
		det.detections[fmt.Sprintf("temp_frame_%d.jpg", idx)] = []model.Detection{{Confidence: 0.9}}
	}

	engine, events := newTestEngine(det, func(path string) (media.FrameSource, error) {
		return src, nil
	})

	require.NoError(t, engine.Start(model.JobSpec{InputPath: dir}))
	collected := collectUntilCompletion(t, events)

	assert.Equal(t, []int{0, 2, 4}, src.sampled)

	done := completionPayload(t, collected[len(collected)-1])
	assert.Equal(t, 3, done.ResultsCount)

	for _, rec := range engine.Results() {
		require.NotNil(t, rec.FrameIndex)
		require.NotNil(t, rec.Timestamp)
		assert.Equal(t, filepath.Join(dir, "clip.mp4"), rec.SourcePath)
		assert.Equal(t, float64(*rec.FrameIndex)/2, *rec.Timestamp)
	}
}

func TestVideoWithUnknownRateSamplesSingleFrame(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp4"), []byte("vid"), 0644))

	src := &fakeFrameSource{fps: 0, frameCount: 0}
	det := &fakeDetector{}
	engine, events := newTestEngine(det, func(path string) (media.FrameSource, error) {
		return src, nil
	})

	require.NoError(t, engine.Start(model.JobSpec{InputPath: dir}))
	collectUntilCompletion(t, events)

	assert.Equal(t, []int{0}, src.sampled)
}

func TestFractionalFrameRateStillAdvances(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp4"), []byte("vid"), 0644))

	// A timelapse below one frame per second must not stall the sampler.
	src := &fakeFrameSource{fps: 0.5, frameCount: 3}
	det := &fakeDetector{}
	engine, events := newTestEngine(det, func(path string) (media.FrameSource, error) {
		return src, nil
	})

	require.NoError(t, engine.Start(model.JobSpec{InputPath: dir}))
	collected := collectUntilCompletion(t, events)

	assert.Equal(t, []int{0, 1, 2}, src.sampled)

	done := completionPayload(t, collected[len(collected)-1])
	assert.Equal(t, "completed", done.Status)
}

func TestStopMidVideoKeepsVideoInExport(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp4"), []byte("vid"), 0644))

	engine, events := newTestEngine(&fakeDetector{}, nil)
	src := &fakeFrameSource{fps: 1, frameCount: 3}
	src.onSample = func(index int) {
		if index == 1 {
			engine.Stop()
		}
	}
	engine.openVideo = func(path string) (media.FrameSource, error) {
		return src, nil
	}

	require.NoError(t, engine.Start(model.JobSpec{InputPath: dir}))
	collected := collectUntilCompletion(t, events)

	done := completionPayload(t, collected[len(collected)-1])
	assert.Equal(t, "stopped", done.Status)
	assert.Equal(t, []int{0, 1}, src.sampled, "sampling must halt at the frame boundary")

	csvPath := filepath.Join(dir, "out.csv")
	require.NoError(t, engine.ExportCSV(csvPath))

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "clip.mp4", rows[1][0])
}

func TestExportedTableThreeImageScenario(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg", "b.jpg", "c.jpg")

	det := &fakeDetector{detections: map[string][]model.Detection{
		"a.jpg": {{X: 10, Y: 20, Width: 30, Height: 40, Confidence: 0.9}},
		"c.jpg": {{X: 5, Y: 6, Width: 7, Height: 8, Confidence: 0.8}},
	}}
	engine, events := newTestEngine(det, nil)

	require.NoError(t, engine.Start(model.JobSpec{InputPath: dir}))
	collectUntilCompletion(t, events)

	csvPath := filepath.Join(dir, "out.csv")
	require.NoError(t, engine.ExportCSV(csvPath))

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, []string{
		"filename", "face_detected", "face_count",
		"face_1_x", "face_1_y", "face_1_width", "face_1_height", "face_1_confidence",
	}, rows[0])

	assert.Equal(t, []string{"a.jpg", "1", "1", "10", "20", "30", "40", "0.9"}, rows[1])
	assert.Equal(t, []string{"b.jpg", "0", "0", "", "", "", "", ""}, rows[2])
	assert.Equal(t, []string{"c.jpg", "1", "1", "5", "6", "7", "8", "0.8"}, rows[3])
}

func TestExportWithoutResultsFails(t *testing.T) {
	engine, _ := newTestEngine(&fakeDetector{}, nil)
	err := engine.ExportCSV(filepath.Join(t.TempDir(), "out.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no results to export")
}

func TestGetStatusIsIdempotentWhenIdle(t *testing.T) {
	engine, _ := newTestEngine(&fakeDetector{}, nil)
	s1, c1 := engine.Snapshot()
	s2, c2 := engine.Snapshot()
	assert.Equal(t, s1, s2)
	assert.Equal(t, c1, c2)
}
