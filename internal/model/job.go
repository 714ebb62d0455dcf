package model

// JobStatus is the batch pipeline state. Terminal states leave the engine
// idle for the next start_processing.
type JobStatus int

const (
	StatusIdle JobStatus = iota
	StatusRunning
	StatusStopped
	StatusCompleted
	StatusFailed
)

func (s JobStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status ends a job.
func (s JobStatus) Terminal() bool {
	return s == StatusStopped || s == StatusCompleted || s == StatusFailed
}

// JobSpec is the configuration of one processing run. At most one job runs
// per worker at a time.
type JobSpec struct {
	InputPath     string  `json:"folder_path"`
	Confidence    float64 `json:"confidence"`
	Model         string  `json:"model"`
	SaveResults   bool    `json:"save_results"`
	ResultsFolder string  `json:"results_folder,omitempty"`
}

// JobRecord is an archived job as stored in the history repository.
type JobRecord struct {
	ID           int64   `json:"id"`
	InputPath    string  `json:"input_path"`
	Model        string  `json:"model"`
	Status       string  `json:"status"`
	ResultsCount int     `json:"results_count"`
	TotalFiles   int     `json:"total_files"`
	Confidence   float64 `json:"confidence"`
	FinishedAt   string  `json:"finished_at"`
}
