package model

// Detection is one detected face bounding box. Coordinates are pixels with
// a top-left origin, axis aligned. Records produced from sampled video
// frames additionally carry the frame index and its timestamp in seconds.
type Detection struct {
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Width      float64  `json:"width"`
	Height     float64  `json:"height"`
	Confidence float64  `json:"confidence"`
	SourcePath string   `json:"image_path"`
	FrameIndex *int     `json:"frame_idx,omitempty"`
	Timestamp  *float64 `json:"timestamp,omitempty"`
}
