// Package detector defines the pluggable detection capability: given an
// image and a confidence threshold, return a list of bounding boxes. The
// orchestration core only ever consumes this interface; concrete variants
// live behind the per-family registry.
package detector

import (
	"strings"

	"facefinder/internal/model"
)

// Detector families. Each family ships in its own isolated runtime
// environment because their native dependencies conflict.
const (
	FamilyGeneral = "general"
	FamilyFace    = "face"
)

// Detector loads a model once and detects faces in single images.
type Detector interface {
	// Load prepares the model identified by modelID. Failure messages are
	// passed through verbatim to callers.
	Load(modelID string) error
	// Detect runs inference on the image at path and returns every box at
	// or above the confidence threshold.
	Detect(imagePath string, confidence float64) ([]model.Detection, error)
}

var catalog = map[string][]string{
	FamilyGeneral: {
		"yolov8n.pt",
		"yolov8s.pt",
		"yolov8m.pt",
		"yolov8l.pt",
		"yolov8x.pt",
	},
	FamilyFace: {
		"yolov8n-face.pt",
		"yolov8m-face.pt",
		"yolov8l-face.pt",
		"yolov11m-face.pt",
		"yolov11l-face.pt",
		"retinaface",
	},
}

// Models returns the static model identifiers of one family.
func Models(family string) []string {
	models := catalog[family]
	out := make([]string, len(models))
	copy(out, models)
	return out
}

// FamilyFor resolves which detector family a model identifier belongs to.
func FamilyFor(modelID string) string {
	lower := strings.ToLower(modelID)
	if lower == "retinaface" || strings.Contains(lower, "-face") {
		return FamilyFace
	}
	return FamilyGeneral
}
