package detector

import (
	"fmt"
	"sync"

	"facefinder/internal/model"
)

// Registry maps detector families to their implementations and tracks the
// model loaded most recently. Resolution happens once per load_model; after
// that every Detect call goes straight to the active variant.
//
// A worker process registers only the family its environment provides, so
// asking for a model from the other family fails with a message naming the
// missing capability while the process stays alive.
type Registry struct {
	mu       sync.Mutex
	byFamily map[string]Detector
	active   Detector
	activeID string
}

func NewRegistry() *Registry {
	return &Registry{byFamily: make(map[string]Detector)}
}

// Register adds a family implementation. Later registrations replace
// earlier ones for the same family.
func (r *Registry) Register(family string, d Detector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byFamily[family] = d
}

// Models lists every model identifier the registered families provide.
func (r *Registry) Models() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var models []string
	for _, family := range []string{FamilyGeneral, FamilyFace} {
		if _, ok := r.byFamily[family]; ok {
			models = append(models, Models(family)...)
		}
	}
	return models
}

// Load resolves the family for modelID and loads it on that family's
// implementation, making it the active detector.
func (r *Registry) Load(modelID string) error {
	family := FamilyFor(modelID)

	r.mu.Lock()
	d, ok := r.byFamily[family]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("no %s detector environment available for model %s", family, modelID)
	}

	if err := d.Load(modelID); err != nil {
		return err
	}

	r.mu.Lock()
	r.active = d
	r.activeID = modelID
	r.mu.Unlock()
	return nil
}

// Detect runs the active detector.
func (r *Registry) Detect(imagePath string, confidence float64) ([]model.Detection, error) {
	r.mu.Lock()
	d := r.active
	r.mu.Unlock()

	if d == nil {
		return nil, fmt.Errorf("no model loaded")
	}
	return d.Detect(imagePath, confidence)
}

// ActiveModel returns the identifier of the loaded model, if any.
func (r *Registry) ActiveModel() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID, r.active != nil
}
