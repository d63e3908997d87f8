// Package config loads Trahl's TOML configuration file with Viper,
// applying defaults and validating the result before a master or
// worker process starts.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"github.com/trahl-dev/trahl/internal/fsremap"
)

// Config is the top-level, fully-populated configuration for one
// process. A master process reads Master/Log/Jobs; a worker reads
// Worker/Log.
type Config struct {
	Master MasterConfig `mapstructure:"master"`
	Worker WorkerConfig `mapstructure:"worker"`
	Log    LogConfig    `mapstructure:"log"`
	Jobs   []JobConfig  `mapstructure:"jobs"`
}

// MasterConfig holds the master process's own settings.
type MasterConfig struct {
	OrchBindAddr string `mapstructure:"orch_bind_addr"`
	WebBindAddr  string `mapstructure:"web_bind_addr"`
	DBPath       string `mapstructure:"db_path"`
}

// WorkerConfig holds the worker process's own settings.
type WorkerConfig struct {
	Identifier      string          `mapstructure:"identifier"`
	MasterAddr      string          `mapstructure:"master_addr"`
	ParallelJobs    uint8           `mapstructure:"parallel_jobs"`
	CacheDir        string          `mapstructure:"cache_dir"`
	FFmpegPath      string          `mapstructure:"ffmpeg_path"`
	FFprobePath     string          `mapstructure:"ffprobe_path"`
	HandbrakePath   string          `mapstructure:"handbrake_path"`
	ExiftoolPath    string          `mapstructure:"exiftool_path"`
	MediainfoPath   string          `mapstructure:"mediainfo_path"`
	CcextractorPath string          `mapstructure:"ccextractor_path"`
	MkvpropeditPath string          `mapstructure:"mkvpropedit_path"`
	FSRemaps        []FSRemapConfig `mapstructure:"fs_remaps"`
}

// FSRemapConfig is one (master, worker) prefix-pair remap rule as it
// appears in TOML.
type FSRemapConfig struct {
	Master string `mapstructure:"master"`
	Worker string `mapstructure:"worker"`
}

// Table converts the configured remap rules into the ordered table the
// fsremap package applies.
func (w WorkerConfig) Table() fsremap.Table {
	t := make(fsremap.Table, len(w.FSRemaps))
	for i, r := range w.FSRemaps {
		t[i] = fsremap.Pair{Master: r.Master, Worker: r.Worker}
	}
	return t
}

// LogConfig holds logging configuration shared by both processes.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// JobConfig is one `[[jobs]]` library definition.
type JobConfig struct {
	Name            string            `mapstructure:"name"`
	Enabled         bool              `mapstructure:"enabled"`
	SourcePath      string            `mapstructure:"source_path"`
	DestinationPath string            `mapstructure:"destination_path"`
	LuaScript       string            `mapstructure:"lua_script"`
	Variables       map[string]string `mapstructure:"variables"`
}

// Load reads configuration from path, applying defaults first so an
// unset key still resolves to a sane value.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetConfigFile(path)

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values matching the ones named in the
// configuration surface: bind addresses, worker identifier/capacity,
// and log level.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("master.orch_bind_addr", "0.0.0.0:1849")
	v.SetDefault("master.web_bind_addr", "0.0.0.0:1850")

	v.SetDefault("worker.identifier", "worker")
	v.SetDefault("worker.master_addr", "127.0.0.1:1849")
	v.SetDefault("worker.parallel_jobs", 1)

	v.SetDefault("log.level", "info")
}

// Validate checks the configuration for a startup-blocking error.
// runMaster and runWorker restrict validation to the sections the
// process actually needs: a
// worker-only process need not supply a db_path, and vice versa.
func (c *Config) Validate(runMaster, runWorker bool) error {
	if !runMaster && !runWorker {
		return errors.New("config: at least one of master or worker mode is required")
	}

	if runMaster {
		if c.Master.DBPath == "" {
			return errors.New("config: master.db_path is required")
		}
		if c.Master.OrchBindAddr == "" {
			return errors.New("config: master.orch_bind_addr is required")
		}
	}

	if runWorker {
		if c.Worker.CacheDir == "" {
			return errors.New("config: worker.cache_dir is required")
		}
		if c.Worker.MasterAddr == "" {
			return errors.New("config: worker.master_addr is required")
		}
		if c.Worker.ParallelJobs == 0 {
			return errors.New("config: worker.parallel_jobs must be at least 1")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("config: log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}

	for _, j := range c.Jobs {
		if j.Name == "" {
			return errors.New("config: every [[jobs]] entry requires a name")
		}
	}

	return nil
}
