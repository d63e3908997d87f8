package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trahl-dev/trahl/internal/catalog/models"
	"github.com/trahl-dev/trahl/internal/config"
	"github.com/trahl-dev/trahl/internal/events"
	"github.com/trahl-dev/trahl/internal/peer"
	"github.com/trahl-dev/trahl/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeUpserter struct{}

func (fakeUpserter) Upsert(_ context.Context, identifier string) (*models.Worker, error) {
	return &models.Worker{Identifier: identifier}, nil
}

func TestResolveBinaryPrefersConfiguredPath(t *testing.T) {
	path, err := resolveBinary("/opt/custom/ffmpeg", "ffmpeg", "TRAHL_FFMPEG_PATH")
	require.NoError(t, err)
	assert.Equal(t, "/opt/custom/ffmpeg", path)
}

func TestResolveBinaryFailsWhenNotFound(t *testing.T) {
	_, err := resolveBinary("", "trahl-definitely-not-a-real-binary", "TRAHL_DOES_NOT_EXIST_PATH")
	assert.Error(t, err)
}

func TestWorkerRunsJobAndReportsDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	srv, err := peer.NewServer("127.0.0.1:0", bus, fakeUpserter{}, discardLogger())
	require.NoError(t, err)
	go srv.Serve(ctx)

	w, err := New(config.WorkerConfig{
		Identifier:   "worker-test",
		MasterAddr:   srv.Addr().String(),
		ParallelJobs: 2,
		CacheDir:     t.TempDir(),
		FFmpegPath:   "/bin/true",
		FFprobePath:  "/bin/true",
	}, discardLogger())
	require.NoError(t, err)

	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	var identity peer.Identity
	var frame peer.Frame
	select {
	case frame = <-srv.ManagerOut():
		identity = frame.Identity
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for worker handshake reply at manager")
	}

	ok := srv.Send(identity, wire.NewJob(wire.JobMsg{
		JobID:       ulid.Make(),
		Script:      "", // no-op script: no set_output call, job completes with no produced file.
		Vars:        map[string]string{},
		File:        "/src/movies/a.mkv",
		DstDir:      "/dst/movies",
		LibraryRoot: "/src/movies",
	}))
	require.True(t, ok)

	sawAck, sawDone := false, false
	deadline := time.After(5 * time.Second)
	for !sawDone {
		select {
		case frame = <-srv.ManagerOut():
			if frame.Message.Kind != wire.KindJobStatus || frame.Message.JobStatus == nil {
				continue
			}
			switch frame.Message.JobStatus.Status.Kind {
			case wire.JobStatusAck:
				sawAck = true
			case wire.JobStatusDone:
				sawDone = true
			case wire.JobStatusError:
				t.Fatalf("unexpected job error: %s", frame.Message.JobStatus.Status.Text)
			}
		case <-deadline:
			t.Fatal("timed out waiting for job completion")
		}
	}
	assert.True(t, sawAck)

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not shut down after context cancellation")
	}
}
