package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/trahl-dev/trahl/internal/catalog/models"
	"gorm.io/gorm"
)

// FileRepository persists FileEntry rows for the librarian.
type FileRepository struct {
	db *gorm.DB
}

// NewFileRepository creates a FileRepository bound to db.
func NewFileRepository(db *gorm.DB) *FileRepository {
	return &FileRepository{db: db}
}

// IsKnown reports whether filePath is already discovered for
// libraryID, either as an existing file_entry row or as the output_file
// of any finished job — a scan must never re-queue its own output.
func (r *FileRepository) IsKnown(ctx context.Context, libraryID uint, filePath string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.FileEntry{}).
		Where("library_id = ? AND file_path = ?", libraryID, filePath).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("repository: checking file_entry: %w", err)
	}
	if count > 0 {
		return true, nil
	}

	err = r.db.WithContext(ctx).Model(&models.Job{}).
		Joins("JOIN file_entries ON file_entries.id = jobs.file_id").
		Where("file_entries.library_id = ? AND jobs.output_file = ? AND jobs.status IN ?",
			libraryID, filePath, []models.JobStatus{models.JobStatusSuccess, models.JobStatusFailure}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("repository: checking job output_file: %w", err)
	}
	return count > 0, nil
}

// Insert creates a new file_entry row. Callers must have already
// confirmed IsKnown returned false; the unique index on
// (library_id, file_path) is the final backstop (invariant #2).
func (r *FileRepository) Insert(ctx context.Context, entry *models.FileEntry) error {
	entry.DiscoveredAt = time.Now().UTC()
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("repository: inserting file_entry: %w", err)
	}
	return nil
}

// CountByLibrary returns how many file_entry rows exist for libraryID.
func (r *FileRepository) CountByLibrary(ctx context.Context, libraryID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.FileEntry{}).Where("library_id = ?", libraryID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("repository: counting file_entries: %w", err)
	}
	return count, nil
}

// MarkLibraryScanned stamps last_scanned_at = now for libraryID.
func (r *FileRepository) MarkLibraryScanned(ctx context.Context, libraryID uint) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&models.Library{}).
		Where("id = ?", libraryID).
		Update("last_scanned_at", now).Error
	if err != nil {
		return fmt.Errorf("repository: marking library %d scanned: %w", libraryID, err)
	}
	return nil
}
