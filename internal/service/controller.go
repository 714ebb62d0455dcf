// Package service owns the controller side of the system: at most one live
// worker process, the fan-out hub, a buffer of recent progress messages,
// and the job history archive.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"facefinder/internal/config"
	"facefinder/internal/hub"
	"facefinder/internal/launcher"
	"facefinder/internal/logger"
	"facefinder/internal/model"
	"facefinder/internal/repository"
	"facefinder/internal/supervisor"
)

type Controller struct {
	cfg     *config.Config
	logger  *logger.Logger
	hub     *hub.Hub
	sup     *supervisor.Supervisor
	history repository.HistoryRepository

	// spawn builds the worker command; swapped out in tests.
	spawn func() *exec.Cmd

	mu         sync.Mutex
	progress   []string
	currentJob model.JobSpec
}

func NewController(cfg *config.Config, h *hub.Hub, history repository.HistoryRepository, log *logger.Logger) *Controller {
	c := &Controller{
		cfg:     cfg,
		logger:  log,
		hub:     h,
		history: history,
	}
	c.spawn = func() *exec.Cmd {
		env := launcher.Resolve(cfg.DetectorFamily, cfg.EnvRoot, cfg.ModelsDir)
		if env.Warning != "" {
			log.Warning("Environment resolution: %s", env.Warning)
			h.Publish(model.NewEvent(model.EventError, map[string]interface{}{
				"message": env.Warning,
			}))
		}
		return launcher.Command(cfg.WorkerBinary, env)
	}
	c.sup = supervisor.New(c.onEvent, time.Duration(cfg.WorkerStartTimeout)*time.Second, log)
	return c
}

// Hub exposes the fan-out hub for the streaming handlers.
func (c *Controller) Hub() *hub.Hub {
	return c.hub
}

// EnsureWorker starts the worker process if none is alive. Called lazily by
// every operation that needs a worker, so a crashed worker is relaunched on
// the next request.
func (c *Controller) EnsureWorker() error {
	if c.sup.Alive() {
		return nil
	}
	c.logger.Info("Starting worker for detector family %s", c.cfg.DetectorFamily)
	if err := c.sup.Start(c.spawn()); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	return nil
}

func (c *Controller) call(ctx context.Context, reqType string, data interface{}) (json.RawMessage, error) {
	if err := c.EnsureWorker(); err != nil {
		return nil, err
	}
	return c.sup.Call(ctx, reqType, data)
}

// Models lists the detector identifiers the worker's environment provides.
func (c *Controller) Models(ctx context.Context) (json.RawMessage, error) {
	return c.call(ctx, "get_models", nil)
}

// LoadModel asks the worker to load a model; failure messages come back
// verbatim from the detector layer.
func (c *Controller) LoadModel(ctx context.Context, modelID string) (json.RawMessage, error) {
	return c.call(ctx, "load_model", map[string]string{"model_path": modelID})
}

// StartProcessing forwards a job to the worker. The response acknowledges
// acceptance only; completion arrives later as an event.
func (c *Controller) StartProcessing(ctx context.Context, job model.JobSpec) (json.RawMessage, error) {
	c.mu.Lock()
	c.currentJob = job
	c.mu.Unlock()
	return c.call(ctx, "start_processing", job)
}

// StopProcessing requests cooperative cancellation of the running job.
func (c *Controller) StopProcessing(ctx context.Context) (json.RawMessage, error) {
	return c.call(ctx, "stop_processing", nil)
}

// Status returns the worker's current job status snapshot.
func (c *Controller) Status(ctx context.Context) (json.RawMessage, error) {
	return c.call(ctx, "get_status", nil)
}

// Results returns the in-memory detections of the current or last job.
func (c *Controller) Results(ctx context.Context) (json.RawMessage, error) {
	return c.call(ctx, "get_results", nil)
}

// ExportCSV asks the worker to write the aggregate result table.
func (c *Controller) ExportCSV(ctx context.Context, outputPath string) (json.RawMessage, error) {
	return c.call(ctx, "export_csv", map[string]string{"output_path": outputPath})
}

// Progress returns the most recent buffered progress messages, oldest
// first. Served from the controller's own buffer, no worker call needed.
func (c *Controller) Progress() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.progress))
	copy(out, c.progress)
	return out
}

// History returns recently archived jobs.
func (c *Controller) History(limit int) ([]model.JobRecord, error) {
	if c.history == nil {
		return nil, nil
	}
	return c.history.RecentJobs(limit)
}

// Shutdown stops the worker and ends all observer streams.
func (c *Controller) Shutdown() {
	c.sup.Stop()
	c.hub.Close()
}

// onEvent runs on the supervisor's reader goroutine for every worker event.
// It must not call back into the supervisor synchronously, since responses
// are delivered by that same goroutine.
func (c *Controller) onEvent(ev model.Event) {
	switch ev.Kind {
	case model.EventProgress:
		if msg := progressMessage(ev.Data); msg != "" {
			c.bufferProgress(msg)
		}
	case model.EventCompletion:
		go c.archiveJob(ev)
	}
	c.hub.Publish(ev)
}

func (c *Controller) bufferProgress(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = append(c.progress, msg)
	if max := c.cfg.ProgressBufferSize; len(c.progress) > max {
		c.progress = c.progress[len(c.progress)-max:]
	}
}

// archiveJob records a finished job, and its detections when the worker is
// still alive to report them.
func (c *Controller) archiveJob(ev model.Event) {
	if c.history == nil {
		return
	}

	var done model.Completion
	if !decodePayload(ev.Data, &done) {
		c.logger.Warning("Completion event with unreadable payload")
		return
	}

	c.mu.Lock()
	job := c.currentJob
	c.mu.Unlock()

	rec := &model.JobRecord{
		InputPath:    job.InputPath,
		Model:        job.Model,
		Status:       done.Status,
		ResultsCount: done.ResultsCount,
		TotalFiles:   done.TotalFiles,
		Confidence:   job.Confidence,
	}
	jobID, err := c.history.InsertJob(rec)
	if err != nil {
		c.logger.Error("Failed to archive job: %v", err)
		return
	}

	if done.ResultsCount == 0 || !c.sup.Alive() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := c.sup.Call(ctx, "get_results", nil)
	if err != nil {
		c.logger.Warning("Could not fetch results for archiving: %v", err)
		return
	}

	var body struct {
		Results []model.Detection `json:"results"`
	}
	if err := json.Unmarshal(resp, &body); err != nil || len(body.Results) == 0 {
		return
	}
	if err := c.history.InsertDetections(jobID, body.Results); err != nil {
		c.logger.Error("Failed to archive detections: %v", err)
	}
}

// progressMessage extracts the human-readable message from a progress
// payload, which arrives as a decoded JSON map from a live worker or as a
// typed struct in tests.
func progressMessage(data interface{}) string {
	switch v := data.(type) {
	case model.Progress:
		return v.Message
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
	}
	return ""
}

func decodePayload(data interface{}, dst interface{}) bool {
	raw, err := json.Marshal(data)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}
