package model

import "time"

// Event kinds emitted by the pipeline engine and the controller.
const (
	EventProgress   = "progress"
	EventCompletion = "completion"
	EventConnected  = "connected"
	EventHeartbeat  = "heartbeat"
	EventError      = "error"
)

// Event is one message on the worker's event side channel. Delivery to
// observers is at-most-once; the completion event is always the last event
// of a job.
type Event struct {
	Kind      string      `json:"kind"`
	Data      interface{} `json:"data"`
	Timestamp float64     `json:"timestamp"`
}

// NewEvent stamps an event with the current time in unix seconds.
func NewEvent(kind string, data interface{}) Event {
	return Event{
		Kind:      kind,
		Data:      data,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	}
}

// Progress is the payload of a progress event. Processed is the running
// count of work units finished so far and never decreases within a job.
type Progress struct {
	Message          string  `json:"message"`
	Index            int     `json:"index"`
	Total            int     `json:"total"`
	Percent          float64 `json:"percent"`
	Processed        int     `json:"processed"`
	File             string  `json:"file,omitempty"`
	DetectionsInFile int     `json:"detections_in_file"`
	TotalDetections  int     `json:"total_detections"`
}

// Completion is the payload of the single completion event every job ends
// with, regardless of success, failure or cancellation.
type Completion struct {
	Status        string `json:"status"`
	ResultsCount  int    `json:"results_count"`
	TotalFiles    int    `json:"total_files"`
	ResultsFolder string `json:"results_folder,omitempty"`
	Error         string `json:"error,omitempty"`
}
