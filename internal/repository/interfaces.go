package repository

import "facefinder/internal/model"

// HistoryRepository archives finished jobs and their detections.
type HistoryRepository interface {
	InsertJob(rec *model.JobRecord) (int64, error)
	InsertDetections(jobID int64, detections []model.Detection) error
	RecentJobs(limit int) ([]model.JobRecord, error)
	DetectionsForJob(jobID int64) ([]model.Detection, error)
}
