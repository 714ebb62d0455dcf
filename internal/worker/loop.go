// Package worker runs the RPC loop of a worker process: newline-delimited
// JSON commands in on one stream, responses and pipeline events out on
// another. The pipeline engine runs on its own goroutine so the read loop
// stays responsive to stop_processing and exit while a job runs.
package worker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"facefinder/internal/detector"
	"facefinder/internal/logger"
	"facefinder/internal/model"
	"facefinder/internal/pipeline"
	"facefinder/internal/protocol"
)

type Loop struct {
	in       io.Reader
	writer   *protocol.Writer
	registry *detector.Registry
	engine   *pipeline.Engine
	events   <-chan model.Event
	logger   *logger.Logger
}

// NewLoop wires the command stream, the shared output writer, and the
// engine's event channel together.
func NewLoop(in io.Reader, out io.Writer, registry *detector.Registry, engine *pipeline.Engine,
	events <-chan model.Event, logger *logger.Logger) *Loop {
	return &Loop{
		in:       in,
		writer:   protocol.NewWriter(out),
		registry: registry,
		engine:   engine,
		events:   events,
		logger:   logger,
	}
}

// Run reads commands until the input stream closes or an exit command
// arrives. It emits the ready handshake first and forwards engine events
// onto the output stream for the whole lifetime of the loop.
func (l *Loop) Run() error {
	go func() {
		for ev := range l.events {
			if err := l.writer.WriteEvent(ev); err != nil {
				l.logger.Error("Failed to write event: %v", err)
			}
		}
	}()

	if err := l.writer.WriteReady("Worker ready"); err != nil {
		return err
	}

	scanner := bufio.NewScanner(l.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req protocol.Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			l.writer.WriteError(fmt.Sprintf("Invalid JSON: %v", err))
			continue
		}

		result, exit := l.dispatch(req)
		if err := l.writer.WriteResponse(req.ID, result); err != nil {
			l.logger.Error("Failed to write response: %v", err)
		}
		if exit {
			return nil
		}
	}

	return scanner.Err()
}

func (l *Loop) dispatch(req protocol.Request) (result protocol.Result, exit bool) {
	switch req.Type {
	case "ping":
		return protocol.Success("pong"), false

	case "echo":
		var data struct {
			Text string `json:"text"`
		}
		decodeData(req, &data)
		return protocol.Success(data.Text), false

	case "get_models":
		return protocol.Result{"status": "success", "models": l.registry.Models()}, false

	case "load_model":
		var data struct {
			ModelPath string `json:"model_path"`
		}
		decodeData(req, &data)
		if err := l.registry.Load(data.ModelPath); err != nil {
			return protocol.Failure(err.Error()), false
		}
		return protocol.Success("Model loaded"), false

	case "start_processing":
		job := model.JobSpec{Confidence: 0.5, Model: "yolov8n.pt"}
		decodeData(req, &job)
		if err := l.engine.Start(job); err != nil {
			return protocol.Failure(err.Error()), false
		}
		return protocol.Success("Processing started"), false

	case "stop_processing":
		l.engine.Stop()
		return protocol.Success("Processing stopped"), false

	case "get_status":
		status, count := l.engine.Snapshot()
		return protocol.Result{
			"status": "success",
			"status_info": map[string]interface{}{
				"is_processing": status == model.StatusRunning,
				"results_count": count,
			},
		}, false

	case "get_results":
		return protocol.Result{"status": "success", "results": l.engine.Results()}, false

	case "get_progress":
		return protocol.Result{"status": "success", "messages": l.engine.Messages(10)}, false

	case "get_model_info":
		modelID, loaded := l.registry.ActiveModel()
		info := map[string]interface{}{
			"current_model": modelID,
			"loaded":        loaded,
		}
		if loaded {
			info["family"] = detector.FamilyFor(modelID)
		}
		return protocol.Result{"status": "success", "info": info}, false

	case "export_csv":
		var data struct {
			OutputPath string `json:"output_path"`
		}
		decodeData(req, &data)
		if err := l.engine.ExportCSV(data.OutputPath); err != nil {
			return protocol.Failure(err.Error()), false
		}
		return protocol.Success("CSV exported"), false

	case "exit":
		return protocol.Success("Exiting..."), true

	default:
		return protocol.Failure("Unknown command type: " + req.Type), false
	}
}

// decodeData fills dst from the request payload, leaving defaults in place
// when the payload is absent or malformed.
func decodeData(req protocol.Request, dst interface{}) {
	if len(req.Data) > 0 {
		json.Unmarshal(req.Data, dst)
	}
}
