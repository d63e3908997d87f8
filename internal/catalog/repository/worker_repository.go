package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trahl-dev/trahl/internal/catalog/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WorkerRepository persists Worker rows, upserted on every handshake.
type WorkerRepository struct {
	db *gorm.DB
}

// NewWorkerRepository creates a WorkerRepository bound to db.
func NewWorkerRepository(db *gorm.DB) *WorkerRepository {
	return &WorkerRepository{db: db}
}

// Upsert creates or updates the worker row keyed by identifier and
// stamps last_conn_at = now.
func (r *WorkerRepository) Upsert(ctx context.Context, identifier string) (*models.Worker, error) {
	now := time.Now().UTC()
	worker := &models.Worker{Identifier: identifier, LastConnAt: &now}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identifier"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_conn_at"}),
		}).
		Create(worker).Error
	if err != nil {
		return nil, fmt.Errorf("repository: upserting worker %q: %w", identifier, err)
	}

	var result models.Worker
	if err := r.db.WithContext(ctx).Where("identifier = ?", identifier).First(&result).Error; err != nil {
		return nil, fmt.Errorf("repository: loading upserted worker %q: %w", identifier, err)
	}
	return &result, nil
}

// GetByIdentifier loads a worker row by its unique identifier.
func (r *WorkerRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.Worker, error) {
	var worker models.Worker
	if err := r.db.WithContext(ctx).Where("identifier = ?", identifier).First(&worker).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: getting worker %q: %w", identifier, err)
	}
	return &worker, nil
}
