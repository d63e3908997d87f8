// Package repository implements GORM-backed data access for every
// catalog entity, one repository per entity.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trahl-dev/trahl/internal/catalog/models"
	"gorm.io/gorm"
)

// ErrNoWork is returned by PopOldestQueued when there is nothing to
// dispatch, distinguishing "no work" from a real catalog error.
var ErrNoWork = errors.New("repository: no queued job available")

// JobRepository persists Job rows and implements the dispatch-safe pop
// used by the job manager's dispatch tick.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a JobRepository bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// GlobalVariables returns every variable with no owning library — the
// "global" half of the job dispatch's per-library-variables-union-global
// contract.
func (r *JobRepository) GlobalVariables(ctx context.Context) ([]models.Variable, error) {
	var vars []models.Variable
	if err := r.db.WithContext(ctx).Where("library_id IS NULL").Find(&vars).Error; err != nil {
		return nil, fmt.Errorf("repository: listing global variables: %w", err)
	}
	return vars, nil
}

// Create inserts a new queued job for fileID.
func (r *JobRepository) Create(ctx context.Context, fileID uint) (*models.Job, error) {
	job := &models.Job{FileID: fileID, Status: models.JobStatusQueued, CreatedAt: time.Now().UTC()}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("repository: creating job: %w", err)
	}
	return job, nil
}

// PopOldestQueued atomically selects the oldest queued job, marks it
// processing, assigns workerID, and stamps dispatch_token + started_at.
// The whole read-modify-write happens inside one transaction so two
// concurrent dispatch ticks can never pop the same row: the transaction
// boundary is the try-lock, and a RowsAffected of zero on the
// conditional update means another tick already won the race, reported
// as ErrNoWork rather than a real failure.
func (r *JobRepository) PopOldestQueued(ctx context.Context, workerID uint, dispatchToken string) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Preload("File.Library.Script").
			Preload("File.Library.Variables").
			Where("status = ?", models.JobStatusQueued).
			Order("created_at ASC").
			First(&job).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		res := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, models.JobStatusQueued).
			Updates(map[string]any{
				"status":         models.JobStatusProcessing,
				"worker_id":      workerID,
				"dispatch_token": dispatchToken,
				"started_at":     now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoWork
		}
		job.Status = models.JobStatusProcessing
		job.WorkerID = &workerID
		job.DispatchToken = dispatchToken
		job.StartedAt = &now
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoWork
	}
	if err != nil {
		return nil, fmt.Errorf("repository: popping queued job: %w", err)
	}
	return &job, nil
}

// Requeue reverts a job to queued, clearing started_at — used on a
// Declined status and when sending the Job message to the peer fails.
func (r *JobRepository) Requeue(ctx context.Context, jobID uint) error {
	err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":     models.JobStatusQueued,
			"started_at": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("repository: requeueing job %d: %w", jobID, err)
	}
	return nil
}

// RequeueActiveForWorker reverts every processing job owned by workerID
// back to queued; used on peer disconnect.
func (r *JobRepository) RequeueActiveForWorker(ctx context.Context, workerID uint) error {
	err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("worker_id = ? AND status = ?", workerID, models.JobStatusProcessing).
		Updates(map[string]any{
			"status":     models.JobStatusQueued,
			"started_at": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("repository: requeueing active jobs for worker %d: %w", workerID, err)
	}
	return nil
}

// RequeueAllProcessing reverts every processing job back to queued,
// clearing started_at. Called once at master startup: in-memory
// dispatch tracking does not survive a restart, so any job left
// processing belongs to a worker link the new process has never seen
// and will never report back on.
func (r *JobRepository) RequeueAllProcessing(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ?", models.JobStatusProcessing).
		Updates(map[string]any{
			"status":     models.JobStatusQueued,
			"started_at": nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("repository: requeueing stale processing jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Finish transitions a processing job to success or failure.
func (r *JobRepository) Finish(ctx context.Context, jobID uint, status models.JobStatus, outputFile *string) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":      status,
		"finished_at": now,
	}
	if outputFile != nil {
		updates["output_file"] = *outputFile
	}
	err := r.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", jobID).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("repository: finishing job %d: %w", jobID, err)
	}
	return nil
}

// GetByID loads a single job row.
func (r *JobRepository) GetByID(ctx context.Context, id uint) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).First(&job, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: getting job %d: %w", id, err)
	}
	return &job, nil
}
