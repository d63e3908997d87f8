package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/trahl-dev/trahl/internal/catalog/models"
	"gorm.io/gorm"
)

// LibraryRepository persists Library, Script, and Variable rows and
// implements the configuration-merge operation run on startup and on
// config reload.
type LibraryRepository struct {
	db *gorm.DB
}

// NewLibraryRepository creates a LibraryRepository bound to db.
func NewLibraryRepository(db *gorm.DB) *LibraryRepository {
	return &LibraryRepository{db: db}
}

// ConfiguredLibrary is one [[jobs]] entry read from configuration, with
// the script body already loaded from disk.
type ConfiguredLibrary struct {
	Name        string
	Enabled     bool
	SourcePath  string
	DestPath    string
	ScriptName  string
	ScriptBody  string
	Variables   map[string]string
}

// MergeFromConfig reconciles configured libraries into the catalog:
// upsert each script (by content hash), upsert each library keyed by
// (name, source=conf), replace its variables in full, then disable any
// conf-sourced library whose name no longer appears in entries.
// Runs as a single transaction so a reload can never leave the catalog
// half-merged.
func (r *LibraryRepository) MergeFromConfig(ctx context.Context, entries []ConfiguredLibrary, hashFunc func(string) (string, error)) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen := make(map[string]struct{}, len(entries))

		for _, e := range entries {
			seen[e.Name] = struct{}{}

			hash, err := hashFunc(e.ScriptBody)
			if err != nil {
				return fmt.Errorf("hashing script %q: %w", e.ScriptName, err)
			}

			var script models.Script
			err = tx.Where("name = ? AND source = ?", e.ScriptName, "conf").First(&script).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				script = models.Script{Name: e.ScriptName, Source: "conf", Hash: hash, Body: e.ScriptBody}
				if err := tx.Create(&script).Error; err != nil {
					return fmt.Errorf("creating script %q: %w", e.ScriptName, err)
				}
			case err != nil:
				return fmt.Errorf("loading script %q: %w", e.ScriptName, err)
			default:
				if script.Hash != hash {
					script.Hash = hash
					script.Body = e.ScriptBody
					if err := tx.Save(&script).Error; err != nil {
						return fmt.Errorf("updating script %q: %w", e.ScriptName, err)
					}
				}
			}

			var library models.Library
			err = tx.Where("name = ? AND source = ?", e.Name, models.LibrarySourceConf).First(&library).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				library = models.Library{
					Name:        e.Name,
					Source:      models.LibrarySourceConf,
					Path:        e.SourcePath,
					Destination: e.DestPath,
					ScriptID:    script.ID,
					Enabled:     e.Enabled,
				}
				if err := tx.Create(&library).Error; err != nil {
					return fmt.Errorf("creating library %q: %w", e.Name, err)
				}
			case err != nil:
				return fmt.Errorf("loading library %q: %w", e.Name, err)
			default:
				library.Path = e.SourcePath
				library.Destination = e.DestPath
				library.ScriptID = script.ID
				library.Enabled = e.Enabled
				if err := tx.Save(&library).Error; err != nil {
					return fmt.Errorf("updating library %q: %w", e.Name, err)
				}
			}

			if err := tx.Where("library_id = ?", library.ID).Delete(&models.Variable{}).Error; err != nil {
				return fmt.Errorf("clearing variables for library %q: %w", e.Name, err)
			}
			for k, v := range e.Variables {
				value := v
				variable := models.Variable{Key: k, Value: &value, LibraryID: &library.ID}
				if err := tx.Create(&variable).Error; err != nil {
					return fmt.Errorf("inserting variable %q for library %q: %w", k, e.Name, err)
				}
			}
		}

		var confLibraries []models.Library
		if err := tx.Where("source = ?", models.LibrarySourceConf).Find(&confLibraries).Error; err != nil {
			return fmt.Errorf("loading conf libraries: %w", err)
		}
		for _, lib := range confLibraries {
			if _, ok := seen[lib.Name]; ok {
				continue
			}
			if !lib.Enabled {
				continue
			}
			if err := tx.Model(&lib).Update("enabled", false).Error; err != nil {
				return fmt.Errorf("disabling vanished library %q: %w", lib.Name, err)
			}
		}

		return nil
	})
}

// ListEnabled returns every enabled library, preloaded with its script.
func (r *LibraryRepository) ListEnabled(ctx context.Context) ([]models.Library, error) {
	var libraries []models.Library
	if err := r.db.WithContext(ctx).Preload("Script").Preload("Variables").Where("enabled = ?", true).Find(&libraries).Error; err != nil {
		return nil, fmt.Errorf("repository: listing enabled libraries: %w", err)
	}
	return libraries, nil
}

// GetByID loads a single library row with its script and variables.
func (r *LibraryRepository) GetByID(ctx context.Context, id uint) (*models.Library, error) {
	var library models.Library
	if err := r.db.WithContext(ctx).Preload("Script").Preload("Variables").First(&library, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: getting library %d: %w", id, err)
	}
	return &library, nil
}
