package catalog

import (
	"context"
	"fmt"

	"github.com/trahl-dev/trahl/internal/catalog/repository"
)

// LibraryConfig is one [[jobs]] entry as read from configuration, with
// ScriptBody holding the script file's contents as read by the caller.
type LibraryConfig struct {
	Name            string
	Enabled         bool
	SourcePath      string
	DestinationPath string
	ScriptPath      string
	ScriptBody      string
	Variables       map[string]string
}

// MergeLibrariesFromConfig upserts scripts/libraries/variables for every
// entry and disables any vanished conf-sourced library. The caller is
// responsible for reading each ScriptBody from disk before calling this.
func (s *Store) MergeLibrariesFromConfig(ctx context.Context, configs []LibraryConfig) error {
	repo := repository.NewLibraryRepository(s.db)

	entries := make([]repository.ConfiguredLibrary, 0, len(configs))
	for _, c := range configs {
		entries = append(entries, repository.ConfiguredLibrary{
			Name:       c.Name,
			Enabled:    c.Enabled,
			SourcePath: c.SourcePath,
			DestPath:   c.DestinationPath,
			ScriptName: c.ScriptPath,
			ScriptBody: c.ScriptBody,
			Variables:  c.Variables,
		})
	}

	if err := repo.MergeFromConfig(ctx, entries, HashString); err != nil {
		return fmt.Errorf("catalog: merging libraries from config: %w", err)
	}
	return nil
}
