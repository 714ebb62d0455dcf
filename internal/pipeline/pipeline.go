// Package pipeline implements the batch processing engine: it walks an
// input path, classifies files, samples video frames, drives the detector
// capability and accumulates detection records, reporting lifecycle and
// progress through an event channel.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"facefinder/internal/logger"
	"facefinder/internal/media"
	"facefinder/internal/model"
)

// Detector is the capability the engine drives. The worker wires the
// per-family registry in here; tests inject fakes.
type Detector interface {
	Load(modelID string) error
	Detect(imagePath string, confidence float64) ([]model.Detection, error)
}

// Engine owns the job state machine. Job state and the results list are
// mutated only by the engine's own run goroutine; synchronous queries take
// consistent snapshots under the mutex.
type Engine struct {
	detector  Detector
	openVideo media.VideoOpener
	events    chan<- model.Event
	logger    *logger.Logger

	mu        sync.Mutex
	status    model.JobStatus
	job       model.JobSpec
	results   []model.Detection
	files     []string // inputs with an export row, in processing order
	messages  []string // progress log served by get_progress
	processed int      // work units finished; never decreases within a job
	cancelled atomic.Bool
}

func New(det Detector, openVideo media.VideoOpener, events chan<- model.Event, logger *logger.Logger) *Engine {
	return &Engine{
		detector:  det,
		openVideo: openVideo,
		events:    events,
		logger:    logger,
	}
}

// Start accepts a new job and runs it on its own goroutine. A job already
// running is rejected and left untouched.
func (e *Engine) Start(job model.JobSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == model.StatusRunning {
		return fmt.Errorf("processing already running")
	}

	e.status = model.StatusRunning
	e.job = job
	e.results = nil
	e.files = nil
	e.messages = nil
	e.processed = 0
	e.cancelled.Store(false)

	go e.run(job)
	return nil
}

// Stop requests cooperative cancellation. The flag is consulted between
// files and between sampled frames; an in-flight detector call finishes.
func (e *Engine) Stop() {
	e.cancelled.Store(true)
}

// Snapshot returns the current status and result count consistently.
func (e *Engine) Snapshot() (model.JobStatus, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, len(e.results)
}

// Results returns a copy of the accumulated detection records.
func (e *Engine) Results() []model.Detection {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Detection, len(e.results))
	copy(out, e.results)
	return out
}

// Messages returns the last n progress messages.
func (e *Engine) Messages(n int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n <= 0 || n > len(e.messages) {
		n = len(e.messages)
	}
	out := make([]string, n)
	copy(out, e.messages[len(e.messages)-n:])
	return out
}

// run executes one job. The deferred finalize step always runs and emits
// the job's single completion event, whatever path the run took.
func (e *Engine) run(job model.JobSpec) {
	var (
		totalFiles    int
		resultsFolder string
		runErr        error
	)

	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("processing panic: %v", r)
		}
		e.finalize(job, runErr, totalFiles, resultsFolder)
	}()

	if job.SaveResults {
		parent := job.ResultsFolder
		if parent == "" {
			parent, _ = os.Getwd()
		}
		timestamp := time.Now().Format("20060102_150405")
		resultsFolder = filepath.Join(parent, "face_detection_results_"+timestamp)
		if err := os.MkdirAll(resultsFolder, 0755); err != nil {
			runErr = fmt.Errorf("failed to create results folder: %w", err)
			return
		}
		e.progressMessage("Creating results folder: " + resultsFolder)
	}

	e.progressMessage("Loading model: " + job.Model)
	if err := e.detector.Load(job.Model); err != nil {
		runErr = fmt.Errorf("failed to load model %s: %w", job.Model, err)
		return
	}

	images, videos, err := media.CollectFiles(job.InputPath)
	if err != nil {
		runErr = err
		return
	}

	totalFiles = len(images) + len(videos)
	if totalFiles == 0 {
		e.progressMessage("No image or video files found in the specified location")
		return
	}
	e.progressMessage(fmt.Sprintf("Found %d images and %d videos to process", len(images), len(videos)))

	for i, imagePath := range images {
		if e.cancelled.Load() {
			e.progressMessage("Processing stopped by user")
			return
		}

		detections, err := e.detector.Detect(imagePath, job.Confidence)
		if err != nil {
			e.emitError(fmt.Sprintf("Failed to process %s: %v", filepath.Base(imagePath), err))
			continue
		}

		e.record(imagePath, detections)

		e.emitProgress(model.Progress{
			Message:          fmt.Sprintf("Image %d/%d complete", i+1, len(images)),
			Index:            i + 1,
			Total:            len(images),
			Percent:          float64(i+1) / float64(len(images)) * 100,
			File:             filepath.Base(imagePath),
			DetectionsInFile: len(detections),
		})
	}

	for _, videoPath := range videos {
		if e.cancelled.Load() {
			e.progressMessage("Processing stopped by user")
			return
		}
		if err := e.processVideo(job, videoPath, resultsFolder); err != nil {
			e.emitError(fmt.Sprintf("Failed to process %s: %v", filepath.Base(videoPath), err))
		}
	}

	if job.SaveResults && resultsFolder != "" {
		csvPath := filepath.Join(resultsFolder, "detection_results.csv")
		if err := e.ExportCSV(csvPath); err != nil {
			runErr = fmt.Errorf("failed to export results: %w", err)
			return
		}
		e.progressMessage("Results saved to: " + resultsFolder)
	}

	e.mu.Lock()
	resultCount := len(e.results)
	e.mu.Unlock()
	e.progressMessage(fmt.Sprintf("Processing complete. Found %d face detections across %d files", resultCount, totalFiles))
}

// processVideo samples at most one frame per second of footage and runs
// each sampled frame through the image path as an ephemeral file.
func (e *Engine) processVideo(job model.JobSpec, videoPath, resultsFolder string) error {
	src, err := e.openVideo(videoPath)
	if err != nil {
		return err
	}
	defer src.Close()

	fps := src.FPS()
	frameCount := src.FrameCount()

	// Frame 0 is always sampled. An unknown rate or frame count collapses
	// the video to that single frame instead of dividing by zero, and a
	// fractional rate below 1 fps still advances by at least one frame.
	var indices []int
	if fps <= 0 || frameCount <= 0 {
		indices = []int{0}
	} else {
		step := int(fps)
		if step < 1 {
			step = 1
		}
		for idx := 0; idx < frameCount; idx += step {
			indices = append(indices, idx)
		}
	}

	// The video counts as a processed file as soon as sampling begins, so
	// a stop mid-video still leaves its row in the export table.
	e.mu.Lock()
	e.files = append(e.files, videoPath)
	e.mu.Unlock()

	tempDir := resultsFolder
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	for sample, idx := range indices {
		if e.cancelled.Load() {
			e.progressMessage("Processing stopped by user")
			return nil
		}

		framePath, err := src.SampleFrame(idx, tempDir)
		if err != nil {
			e.emitError(fmt.Sprintf("Failed to read frame %d of %s: %v", idx, filepath.Base(videoPath), err))
			continue
		}

		detections, err := e.detector.Detect(framePath, job.Confidence)
		os.Remove(framePath)
		if err != nil {
			e.emitError(fmt.Sprintf("Failed to process frame %d of %s: %v", idx, filepath.Base(videoPath), err))
			continue
		}

		frameIndex := idx
		timestamp := 0.0
		if fps > 0 {
			timestamp = float64(idx) / fps
		}
		for i := range detections {
			detections[i].SourcePath = videoPath
			fi := frameIndex
			ts := timestamp
			detections[i].FrameIndex = &fi
			detections[i].Timestamp = &ts
		}

		e.append(detections)

		e.emitProgress(model.Progress{
			Message:          fmt.Sprintf("Frame %d/%d of %s complete", sample+1, len(indices), filepath.Base(videoPath)),
			Index:            sample + 1,
			Total:            len(indices),
			Percent:          float64(sample+1) / float64(len(indices)) * 100,
			File:             filepath.Base(videoPath),
			DetectionsInFile: len(detections),
		})
	}

	return nil
}

// record stores an image's outcome, zero detections included, so the
// export table gets a row for every processed file.
func (e *Engine) record(path string, detections []model.Detection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files = append(e.files, path)
	e.results = append(e.results, detections...)
	e.processed++
}

func (e *Engine) append(detections []model.Detection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = append(e.results, detections...)
	e.processed++
}

// finalize transitions to the terminal state and emits the completion
// event exactly once per job.
func (e *Engine) finalize(job model.JobSpec, runErr error, totalFiles int, resultsFolder string) {
	status := model.StatusCompleted
	switch {
	case runErr != nil:
		status = model.StatusFailed
	case e.cancelled.Load():
		status = model.StatusStopped
	}

	e.mu.Lock()
	e.status = status
	resultCount := len(e.results)
	e.mu.Unlock()

	completion := model.Completion{
		Status:       status.String(),
		ResultsCount: resultCount,
		TotalFiles:   totalFiles,
	}
	if job.SaveResults {
		completion.ResultsFolder = resultsFolder
	}
	if runErr != nil {
		completion.Error = runErr.Error()
		e.logger.Error("Processing failed: %v", runErr)
	}

	e.emit(model.NewEvent(model.EventCompletion, completion))
}

func (e *Engine) emit(ev model.Event) {
	if e.events != nil {
		e.events <- ev
	}
}

// emitProgress stamps the running processed/detection counters onto the
// payload so every progress event reports non-decreasing counts.
func (e *Engine) emitProgress(p model.Progress) {
	e.mu.Lock()
	p.Processed = e.processed
	p.TotalDetections = len(e.results)
	e.messages = append(e.messages, p.Message)
	e.mu.Unlock()
	e.emit(model.NewEvent(model.EventProgress, p))
}

// progressMessage emits a milestone progress event that carries only text.
func (e *Engine) progressMessage(msg string) {
	e.emitProgress(model.Progress{Message: msg})
}

func (e *Engine) emitError(msg string) {
	e.mu.Lock()
	e.messages = append(e.messages, msg)
	e.mu.Unlock()
	e.logger.Warning("%s", msg)
	e.emit(model.NewEvent(model.EventError, map[string]string{"message": msg}))
}
