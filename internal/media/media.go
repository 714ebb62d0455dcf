// Package media classifies and enumerates the pipeline's input files and
// abstracts video frame extraction behind FrameSource.
package media

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tiff": true,
}

var videoExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mov": true,
}

// IsImage reports whether path has a recognized image extension.
func IsImage(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsVideo reports whether path has a recognized video extension.
func IsVideo(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// CollectFiles resolves inputPath to the images and videos it contains.
// A single file yields one entry; a directory is walked recursively in
// lexical order. Unrecognized extensions are skipped silently.
func CollectFiles(inputPath string) (images, videos []string, err error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat input path: %w", err)
	}

	if !info.IsDir() {
		switch {
		case IsImage(inputPath):
			images = append(images, inputPath)
		case IsVideo(inputPath):
			videos = append(videos, inputPath)
		}
		return images, videos, nil
	}

	err = filepath.WalkDir(inputPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch {
		case IsImage(path):
			images = append(images, path)
		case IsVideo(path):
			videos = append(videos, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to walk input path: %w", err)
	}

	return images, videos, nil
}

// FrameSource reads individual frames out of an opened video.
type FrameSource interface {
	// FPS returns the stream frame rate; zero or negative when unknown.
	FPS() float64
	// FrameCount returns the total number of frames.
	FrameCount() int
	// SampleFrame decodes the frame at index and writes it to a temporary
	// image file under dir, returning its path. The caller removes the
	// file when done with it.
	SampleFrame(index int, dir string) (string, error)
	// Close releases the underlying capture.
	Close() error
}

// VideoOpener opens a video file for frame sampling. The pipeline engine
// takes one so tests can substitute a fake source.
type VideoOpener func(path string) (FrameSource, error)
