package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[master]
orch_bind_addr = "0.0.0.0:1849"
web_bind_addr = "0.0.0.0:1850"
db_path = "trahl.db"

[worker]
identifier = "worker-a"
master_addr = "127.0.0.1:1849"
parallel_jobs = 2
cache_dir = "/var/tmp/trahl"
ffmpeg_path = "/usr/bin/ffmpeg"

[[worker.fs_remaps]]
master = "/mnt/media"
worker = "/media"

[log]
level = "debug"

[[jobs]]
name = "movies"
enabled = true
source_path = "/mnt/media/movies"
destination_path = "/mnt/media/movies-out"
lua_script = "movies.lua"

[jobs.variables]
QUALITY = "high"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trahl.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParsesAllSections(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:1849", cfg.Master.OrchBindAddr)
	require.Equal(t, "trahl.db", cfg.Master.DBPath)

	require.Equal(t, "worker-a", cfg.Worker.Identifier)
	require.EqualValues(t, 2, cfg.Worker.ParallelJobs)
	require.Len(t, cfg.Worker.FSRemaps, 1)
	require.Equal(t, "/mnt/media", cfg.Worker.FSRemaps[0].Master)
	require.Equal(t, "/media", cfg.Worker.FSRemaps[0].Worker)

	require.Equal(t, "debug", cfg.Log.Level)

	require.Len(t, cfg.Jobs, 1)
	require.Equal(t, "movies", cfg.Jobs[0].Name)
	require.Equal(t, "high", cfg.Jobs[0].Variables["QUALITY"])
}

func TestLoadAppliesDefaultsForUnsetKeys(t *testing.T) {
	minimal := `
[master]
db_path = "trahl.db"
[worker]
cache_dir = "/tmp/trahl"
[log]
level = "info"
`
	cfg, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:1849", cfg.Master.OrchBindAddr)
	require.Equal(t, "worker", cfg.Worker.Identifier)
	require.Equal(t, "127.0.0.1:1849", cfg.Worker.MasterAddr)
	require.EqualValues(t, 1, cfg.Worker.ParallelJobs)
}

func TestValidateRequiresDBPathForMaster(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "info"}}
	err := cfg.Validate(true, false)
	require.ErrorContains(t, err, "db_path")
}

func TestValidateRequiresCacheDirForWorker(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "info"}, Worker: WorkerConfig{MasterAddr: "x", ParallelJobs: 1}}
	err := cfg.Validate(false, true)
	require.ErrorContains(t, err, "cache_dir")
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := &Config{Master: MasterConfig{DBPath: "d", OrchBindAddr: "a"}, Log: LogConfig{Level: "verbose"}}
	err := cfg.Validate(true, false)
	require.ErrorContains(t, err, "log.level")
}

func TestValidateRejectsNeitherModeSelected(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "info"}}
	err := cfg.Validate(false, false)
	require.Error(t, err)
}

func TestWorkerConfigTableConvertsRemaps(t *testing.T) {
	w := WorkerConfig{FSRemaps: []FSRemapConfig{{Master: "/a", Worker: "/b"}}}
	tbl := w.Table()
	require.Equal(t, "/b/x", tbl.ToWorker("/a/x"))
}
