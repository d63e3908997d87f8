package scripting

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trahl-dev/trahl/internal/wire"
)

// fakeFFprobe writes an executable script standing in for ffprobe,
// printing a canned JSON document regardless of its arguments.
func fakeFFprobe(t *testing.T, jsonBody string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ffprobe")
	script := "#!/bin/sh\ncat <<'EOF'\n" + jsonBody + "\nEOF\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunExposesVarsAndEmitsMilestone(t *testing.T) {
	statusCh := make(chan wire.JobStatus, 8)
	h := New(discardLogger(), map[string]string{"SRCFILE": "/in.mkv"}, "ffmpeg", "ffprobe", statusCh)

	err := h.Run(context.Background(), `
		assert(_trahl.vars.SRCFILE == "/in.mkv")
		_trahl.milestone("probing")
		_trahl.set_output("/out.mkv", _trahl.O_PRESERVE_DIR)
	`)
	require.NoError(t, err)

	file, mode, ok := h.Output()
	require.True(t, ok)
	require.Equal(t, "/out.mkv", file)
	require.Equal(t, OutputPreserveDir, mode)

	require.Len(t, statusCh, 1)
	status := <-statusCh
	require.Equal(t, wire.JobStatusMilestone, status.Kind)
	require.Equal(t, "probing", status.Text)
}

func TestVarsTableIsReadOnly(t *testing.T) {
	statusCh := make(chan wire.JobStatus, 1)
	h := New(discardLogger(), map[string]string{"A": "1"}, "ffmpeg", "ffprobe", statusCh)

	err := h.Run(context.Background(), `_trahl.vars.A = "2"`)
	require.Error(t, err)
}

func TestLogEmitsFormattedLine(t *testing.T) {
	statusCh := make(chan wire.JobStatus, 1)
	h := New(discardLogger(), nil, "ffmpeg", "ffprobe", statusCh)

	err := h.Run(context.Background(), `_trahl.log(_trahl.WARN, "disk almost full")`)
	require.NoError(t, err)

	status := <-statusCh
	require.Equal(t, wire.JobStatusLog, status.Kind)
	require.Equal(t, "[WARN] disk almost full", status.Text)
}

func TestDelayMsecRespectsContextCancellation(t *testing.T) {
	statusCh := make(chan wire.JobStatus, 1)
	h := New(discardLogger(), nil, "ffmpeg", "ffprobe", statusCh)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.Run(ctx, `_trahl.delay_msec(50)`)
	require.Error(t, err)
}

func TestFromJSONConvertsNestedStructures(t *testing.T) {
	statusCh := make(chan wire.JobStatus, 1)
	h := New(discardLogger(), nil, "ffmpeg", "ffprobe", statusCh)

	err := h.Run(context.Background(), `
		local t = _trahl.from_json('{"name":"x","tags":["a","b"],"count":3}')
		assert(t.name == "x")
		assert(t.tags[1] == "a" and t.tags[2] == "b")
		assert(t.count == 3)
	`)
	require.NoError(t, err)
}

func TestFFprobeExposesFullFormatAndStreamData(t *testing.T) {
	ffprobe := fakeFFprobe(t, `{"format":{"duration":"10.5"},"streams":[{"codec_name":"h264","width":1920}]}`)

	statusCh := make(chan wire.JobStatus, 1)
	h := New(discardLogger(), nil, "ffmpeg", ffprobe, statusCh)

	err := h.Run(context.Background(), `
		local probe = _trahl.ffprobe("/in.mkv")
		assert(probe.format.duration == "10.5")
		assert(probe.streams[1].codec_name == "h264")
		assert(probe.streams[1].width == 1920)
	`)
	require.NoError(t, err)
}

func TestTimeReturnsCurrentEpochSeconds(t *testing.T) {
	statusCh := make(chan wire.JobStatus, 1)
	h := New(discardLogger(), nil, "ffmpeg", "ffprobe", statusCh)

	err := h.Run(context.Background(), `
		local t = _trahl.time()
		assert(type(t) == "number" and t > 0)
	`)
	require.NoError(t, err)
}
