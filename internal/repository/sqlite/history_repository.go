package sqlite

import (
	"fmt"

	"facefinder/internal/model"
)

// HistoryRepository implements repository.HistoryRepository for SQLite.
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository creates a new SQLite history repository.
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// InsertJob archives one finished job and returns its row id.
func (r *HistoryRepository) InsertJob(rec *model.JobRecord) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO jobs (input_path, model, status, results_count, total_files, confidence)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.InputPath, rec.Model, rec.Status, rec.ResultsCount, rec.TotalFiles, rec.Confidence)
	if err != nil {
		return 0, fmt.Errorf("failed to insert job: %w", err)
	}

	return result.LastInsertId()
}

// InsertDetections archives a job's detections in a single transaction.
func (r *HistoryRepository) InsertDetections(jobID int64, detections []model.Detection) error {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO detections (job_id, source_path, frame_index, timestamp_seconds, x, y, width, height, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, det := range detections {
		if _, err := stmt.Exec(jobID, det.SourcePath, det.FrameIndex, det.Timestamp,
			det.X, det.Y, det.Width, det.Height, det.Confidence); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	return tx.Commit()
}

// RecentJobs returns the most recently finished jobs, newest first.
func (r *HistoryRepository) RecentJobs(limit int) ([]model.JobRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Conn().Query(`
		SELECT id, input_path, model, status, results_count, total_files, confidence, finished_at
		FROM jobs
		ORDER BY finished_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var records []model.JobRecord
	for rows.Next() {
		var rec model.JobRecord
		if err := rows.Scan(&rec.ID, &rec.InputPath, &rec.Model, &rec.Status,
			&rec.ResultsCount, &rec.TotalFiles, &rec.Confidence, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// DetectionsForJob returns a job's archived detections in insertion order.
func (r *HistoryRepository) DetectionsForJob(jobID int64) ([]model.Detection, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT source_path, frame_index, timestamp_seconds, x, y, width, height, confidence
		FROM detections
		WHERE job_id = ?
		ORDER BY id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []model.Detection
	for rows.Next() {
		var det model.Detection
		if err := rows.Scan(&det.SourcePath, &det.FrameIndex, &det.Timestamp,
			&det.X, &det.Y, &det.Width, &det.Height, &det.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, det)
	}

	return detections, rows.Err()
}
