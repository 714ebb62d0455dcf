package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"facefinder/internal/logger"
	"facefinder/internal/model"
	"facefinder/internal/service"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeRaw relays a worker response body unchanged.
func writeRaw(w http.ResponseWriter, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, map[string]string{"status": "error", "message": err.Error()})
}

// HealthHandler is the liveness probe; the only endpoint that skips the
// signature check.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

// ModelsHandler lists the detector identifiers of the worker's environment.
func ModelsHandler(ctrl *service.Controller, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := ctrl.Models(r.Context())
		if err != nil {
			logger.Error("get_models failed: %v", err)
			writeError(w, err)
			return
		}
		writeRaw(w, resp)
	}
}

// LoadModelHandler forwards a model load request to the worker.
func LoadModelHandler(ctrl *service.Controller, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Model == "" {
			writeJSON(w, map[string]string{"status": "error", "message": "model is required"})
			return
		}
		resp, err := ctrl.LoadModel(r.Context(), body.Model)
		if err != nil {
			logger.Error("load_model failed: %v", err)
			writeError(w, err)
			return
		}
		writeRaw(w, resp)
	}
}

// StartHandler accepts a processing job and forwards it to the worker. The
// response only acknowledges acceptance; completion arrives on the event
// streams.
func StartHandler(ctrl *service.Controller, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Path          string  `json:"path"`
			Confidence    float64 `json:"confidence"`
			Model         string  `json:"model"`
			SaveResults   bool    `json:"save_results"`
			ResultsFolder string  `json:"results_folder"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Path == "" {
			writeJSON(w, map[string]string{"status": "error", "message": "path is required"})
			return
		}
		if body.Confidence == 0 {
			body.Confidence = 0.5
		}
		if body.Model == "" {
			body.Model = "yolov8n.pt"
		}

		job := model.JobSpec{
			InputPath:     body.Path,
			Confidence:    body.Confidence,
			Model:         body.Model,
			SaveResults:   body.SaveResults,
			ResultsFolder: body.ResultsFolder,
		}
		resp, err := ctrl.StartProcessing(r.Context(), job)
		if err != nil {
			logger.Error("start_processing failed: %v", err)
			writeError(w, err)
			return
		}
		writeRaw(w, resp)
	}
}

// StopHandler requests cancellation of the running job.
func StopHandler(ctrl *service.Controller, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := ctrl.StopProcessing(r.Context())
		if err != nil {
			logger.Error("stop_processing failed: %v", err)
			writeError(w, err)
			return
		}
		writeRaw(w, resp)
	}
}

// StatusHandler reports the worker's job status snapshot.
func StatusHandler(ctrl *service.Controller, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := ctrl.Status(r.Context())
		if err != nil {
			logger.Error("get_status failed: %v", err)
			writeError(w, err)
			return
		}
		writeRaw(w, resp)
	}
}

// ResultsHandler returns the detections of the current or last job.
func ResultsHandler(ctrl *service.Controller, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := ctrl.Results(r.Context())
		if err != nil {
			logger.Error("get_results failed: %v", err)
			writeError(w, err)
			return
		}
		writeRaw(w, resp)
	}
}

// ProgressHandler serves the last buffered progress messages.
func ProgressHandler(ctrl *service.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"status":   "success",
			"messages": ctrl.Progress(),
		})
	}
}

// ExportHandler asks the worker to write the aggregate CSV table.
func ExportHandler(ctrl *service.Controller, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			OutputPath string `json:"output_path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OutputPath == "" {
			writeJSON(w, map[string]string{"status": "error", "message": "output_path is required"})
			return
		}
		resp, err := ctrl.ExportCSV(r.Context(), body.OutputPath)
		if err != nil {
			logger.Error("export_csv failed: %v", err)
			writeError(w, err)
			return
		}
		writeRaw(w, resp)
	}
}

// HistoryHandler lists recently archived jobs.
func HistoryHandler(ctrl *service.Controller, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		records, err := ctrl.History(limit)
		if err != nil {
			logger.Error("history query failed: %v", err)
			writeError(w, err)
			return
		}
		if records == nil {
			records = []model.JobRecord{}
		}
		writeJSON(w, map[string]interface{}{"status": "success", "jobs": records})
	}
}
