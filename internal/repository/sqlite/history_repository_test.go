package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facefinder/internal/model"
)

func setupRepo(t *testing.T) *HistoryRepository {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewHistoryRepository(db)
}

func TestInsertAndListJobs(t *testing.T) {
	repo := setupRepo(t)

	for i, status := range []string{"completed", "stopped", "failed"} {
		_, err := repo.InsertJob(&model.JobRecord{
			InputPath:    "/in/batch",
			Model:        "yolov8n.pt",
			Status:       status,
			ResultsCount: i,
			TotalFiles:   10,
			Confidence:   0.5,
		})
		require.NoError(t, err)
	}

	jobs, err := repo.RecentJobs(10)
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	// Newest first.
	assert.Equal(t, "failed", jobs[0].Status)
	assert.Equal(t, 2, jobs[0].ResultsCount)
	assert.NotEmpty(t, jobs[0].FinishedAt)
}

func TestRecentJobsRespectsLimit(t *testing.T) {
	repo := setupRepo(t)

	for i := 0; i < 5; i++ {
		_, err := repo.InsertJob(&model.JobRecord{InputPath: "/in", Model: "m", Status: "completed"})
		require.NoError(t, err)
	}

	jobs, err := repo.RecentJobs(2)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestDetectionsRoundTrip(t *testing.T) {
	repo := setupRepo(t)

	jobID, err := repo.InsertJob(&model.JobRecord{InputPath: "/in", Model: "m", Status: "completed"})
	require.NoError(t, err)

	frameIdx := 3
	ts := 1.5
	detections := []model.Detection{
		{SourcePath: "/in/a.jpg", X: 1, Y: 2, Width: 3, Height: 4, Confidence: 0.9},
		{SourcePath: "/in/clip.mp4", X: 5, Y: 6, Width: 7, Height: 8, Confidence: 0.8, FrameIndex: &frameIdx, Timestamp: &ts},
	}
	require.NoError(t, repo.InsertDetections(jobID, detections))

	got, err := repo.DetectionsForJob(jobID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "/in/a.jpg", got[0].SourcePath)
	assert.Nil(t, got[0].FrameIndex)

	require.NotNil(t, got[1].FrameIndex)
	assert.Equal(t, 3, *got[1].FrameIndex)
	require.NotNil(t, got[1].Timestamp)
	assert.Equal(t, 1.5, *got[1].Timestamp)
}

func TestDetectionsForUnknownJobIsEmpty(t *testing.T) {
	repo := setupRepo(t)

	got, err := repo.DetectionsForJob(42)
	require.NoError(t, err)
	assert.Empty(t, got)
}
