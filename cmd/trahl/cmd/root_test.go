package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "trahl.toml")
	body := `
[master]
orch_bind_addr = "127.0.0.1:0"
db_path = "` + filepath.Join(dir, "catalog.db") + `"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func resetFlags(t *testing.T) {
	t.Helper()
	runMaster, runWorker, testConfig, configFile = false, false, false, ""
	t.Cleanup(func() {
		runMaster, runWorker, testConfig, configFile = false, false, false, ""
	})
}

func TestRootRequiresConfigFlag(t *testing.T) {
	resetFlags(t)
	runMaster = true
	err := runRoot(rootCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-c/--config")
}

func TestRootRequiresMasterOrWorkerFlag(t *testing.T) {
	resetFlags(t)
	configFile = writeTestConfig(t)
	err := runRoot(rootCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-m/--master or -w/--worker")
}

func TestRootTestConfigPrintsOKAndExitsWithoutBinding(t *testing.T) {
	resetFlags(t)
	configFile = writeTestConfig(t)
	runMaster = true
	testConfig = true

	stdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = stdout }()

	runErr := runRoot(rootCmd, nil)
	require.NoError(t, w.Close())
	os.Stdout = stdout

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)

	require.NoError(t, runErr)
	assert.Equal(t, "Configuration test OK\n", buf.String())
}

func TestRootRejectsInvalidConfig(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "trahl.toml")
	require.NoError(t, os.WriteFile(path, []byte("[master]\n"), 0o644))
	configFile = path
	runMaster = true

	err := runRoot(rootCmd, nil)
	require.Error(t, err)
}
