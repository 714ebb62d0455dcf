package media

import (
	"fmt"
	"path/filepath"

	"gocv.io/x/gocv"
)

// captureSource implements FrameSource over an OpenCV video capture.
type captureSource struct {
	path string
	cap  *gocv.VideoCapture
}

// OpenVideo opens the video at path for frame sampling.
func OpenVideo(path string) (FrameSource, error) {
	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("could not open video: %s", path)
	}
	return &captureSource{path: path, cap: cap}, nil
}

func (s *captureSource) FPS() float64 {
	return s.cap.Get(gocv.VideoCaptureFPS)
}

func (s *captureSource) FrameCount() int {
	return int(s.cap.Get(gocv.VideoCaptureFrameCount))
}

func (s *captureSource) SampleFrame(index int, dir string) (string, error) {
	s.cap.Set(gocv.VideoCapturePosFrames, float64(index))

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := s.cap.Read(&mat); !ok || mat.Empty() {
		return "", fmt.Errorf("could not read frame %d from %s", index, s.path)
	}

	framePath := filepath.Join(dir, fmt.Sprintf("temp_frame_%d.jpg", index))
	if ok := gocv.IMWrite(framePath, mat); !ok {
		return "", fmt.Errorf("could not write frame %d to %s", index, framePath)
	}
	return framePath, nil
}

func (s *captureSource) Close() error {
	return s.cap.Close()
}
