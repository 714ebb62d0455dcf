package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"facefinder/internal/logger"
	"facefinder/internal/model"
	"facefinder/internal/service"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebsocketHandler serves the bidirectional socket surface. Inbound
// messages carry named commands; every connection also receives the shared
// face_detection_event broadcast from the hub.
func WebsocketHandler(ctrl *service.Controller, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		h := ctrl.Hub()
		h.AddConn(connection)
		defer func() {
			h.RemoveConn(connection)
			connection.Close()
		}()

		logger.Info("Socket observer connected")

		for {
			var msg struct {
				Type string          `json:"type"`
				Data json.RawMessage `json:"data"`
			}
			if err := connection.ReadJSON(&msg); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Socket observer disconnected normally")
				} else {
					logger.Info("Socket observer disconnected: %v", err)
				}
				return
			}

			var resp json.RawMessage
			var callErr error

			switch msg.Type {
			case "start_detection":
				var body struct {
					Path          string  `json:"path"`
					Confidence    float64 `json:"confidence"`
					Model         string  `json:"model"`
					SaveResults   bool    `json:"save_results"`
					ResultsFolder string  `json:"results_folder"`
				}
				if len(msg.Data) > 0 {
					json.Unmarshal(msg.Data, &body)
				}
				if body.Confidence == 0 {
					body.Confidence = 0.5
				}
				if body.Model == "" {
					body.Model = "yolov8n.pt"
				}
				resp, callErr = ctrl.StartProcessing(r.Context(), model.JobSpec{
					InputPath:     body.Path,
					Confidence:    body.Confidence,
					Model:         body.Model,
					SaveResults:   body.SaveResults,
					ResultsFolder: body.ResultsFolder,
				})

			case "stop_detection":
				resp, callErr = ctrl.StopProcessing(r.Context())

			case "get_status":
				resp, callErr = ctrl.Status(r.Context())

			default:
				callErr = nil
				resp, _ = json.Marshal(map[string]string{
					"status":  "error",
					"message": "Unknown command type: " + msg.Type,
				})
			}

			reply := map[string]interface{}{
				"type":    "response",
				"command": msg.Type,
			}
			if callErr != nil {
				reply["response"] = map[string]string{"status": "error", "message": callErr.Error()}
			} else {
				reply["response"] = json.RawMessage(resp)
			}
			if err := h.WriteConn(connection, reply); err != nil {
				logger.Info("Socket observer write failed: %v", err)
				return
			}
		}
	}
}
