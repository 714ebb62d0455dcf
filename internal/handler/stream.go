package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"facefinder/internal/config"
	"facefinder/internal/logger"
	"facefinder/internal/model"
	"facefinder/internal/service"
)

// StreamHandler serves one observer a live event stream over server-sent
// events. The signature middleware has already validated the key in the
// path. A heartbeat goes out after each quiet interval so clients can
// detect silent connection loss.
func StreamHandler(ctrl *service.Controller, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	heartbeat := time.Duration(cfg.HeartbeatInterval) * time.Second

	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		sub := ctrl.Hub().Subscribe()
		defer ctrl.Hub().Unsubscribe(sub.ID)

		writeSSE(w, model.NewEvent(model.EventConnected, map[string]string{
			"observer_id": sub.ID,
		}))
		flusher.Flush()

		timer := time.NewTimer(heartbeat)
		defer timer.Stop()

		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					// Dropped by the hub for backpressure or shutdown.
					return
				}
				if err := writeSSE(w, ev); err != nil {
					logger.Info("Stream observer %s write failed: %v", sub.ID, err)
					return
				}
				flusher.Flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(heartbeat)

			case <-timer.C:
				if err := writeSSE(w, model.NewEvent(model.EventHeartbeat, nil)); err != nil {
					return
				}
				flusher.Flush()
				timer.Reset(heartbeat)

			case <-r.Context().Done():
				logger.Info("Stream observer %s disconnected", sub.ID)
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
