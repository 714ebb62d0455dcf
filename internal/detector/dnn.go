package detector

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"facefinder/internal/logger"
	"facefinder/internal/model"
)

// DNNDetector runs detection through an OpenCV DNN network. Model weights
// live under modelsDir as <name>.pb with a matching <name>.pbtxt graph
// description; the .pt identifiers from the catalog map onto those files.
type DNNDetector struct {
	modelsDir string
	family    string
	logger    *logger.Logger

	mu     sync.Mutex
	net    gocv.Net
	loaded bool
}

func NewDNNDetector(modelsDir, family string, logger *logger.Logger) *DNNDetector {
	return &DNNDetector{
		modelsDir: modelsDir,
		family:    family,
		logger:    logger,
	}
}

// weightsBase strips the catalog suffix so yolov8n-face.pt resolves to
// yolov8n-face.{pb,pbtxt} in the models directory.
func weightsBase(modelID string) string {
	return strings.TrimSuffix(strings.ToLower(modelID), ".pt")
}

// Load reads the network for modelID and replaces any previously loaded one.
func (d *DNNDetector) Load(modelID string) error {
	if FamilyFor(modelID) != d.family {
		return fmt.Errorf("model %s belongs to the %s family, this environment provides %s",
			modelID, FamilyFor(modelID), d.family)
	}

	base := weightsBase(modelID)
	modelPath := filepath.Join(d.modelsDir, base+".pb")
	configPath := filepath.Join(d.modelsDir, base+".pbtxt")

	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", configPath)
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network for %s", modelID)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	d.mu.Lock()
	if d.loaded {
		d.net.Close()
	}
	d.net = net
	d.loaded = true
	d.mu.Unlock()

	d.logger.Info("Detection network initialized: %s", modelID)
	return nil
}

// Detect runs the DNN on the image at path and returns boxes at or above
// the confidence threshold. The network output rows are
// [batch_id, class_id, confidence, x1, y1, x2, y2] with normalized corners.
func (d *DNNDetector) Detect(imagePath string, confidence float64) ([]model.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.loaded {
		return nil, fmt.Errorf("detection network not initialized")
	}

	mat := gocv.IMRead(imagePath, gocv.IMReadColor)
	if mat.Empty() {
		return nil, fmt.Errorf("could not load image: %s", imagePath)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(300, 300),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")

	output := d.net.Forward("")
	defer output.Close()

	cols := float64(mat.Cols())
	rows := float64(mat.Rows())

	var results []model.Detection

	outputReshaped := output.Reshape(1, output.Total()/7)
	defer outputReshaped.Close()
	for i := 0; i < outputReshaped.Rows(); i++ {
		score := float64(outputReshaped.GetFloatAt(i, 2))
		if score < confidence {
			continue
		}

		x1 := float64(outputReshaped.GetFloatAt(i, 3)) * cols
		y1 := float64(outputReshaped.GetFloatAt(i, 4)) * rows
		x2 := float64(outputReshaped.GetFloatAt(i, 5)) * cols
		y2 := float64(outputReshaped.GetFloatAt(i, 6)) * rows

		results = append(results, model.Detection{
			X:          x1,
			Y:          y1,
			Width:      x2 - x1,
			Height:     y2 - y1,
			Confidence: score,
			SourcePath: imagePath,
		})
	}

	return results, nil
}

// Close releases the loaded network.
func (d *DNNDetector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded {
		d.net.Close()
		d.loaded = false
	}
}
