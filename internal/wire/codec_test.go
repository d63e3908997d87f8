package wire

import (
	"bufio"
	"bytes"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	b, err := Encode(m)
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)
	return got
}

func TestCodecRoundTripZeroPayloadVariants(t *testing.T) {
	for _, m := range []Message{NewHelloAck(), NewPing(), NewPong(), NewCancelJobs(), NewBye()} {
		got := roundTrip(t, m)
		assert.Equal(t, m.Kind, got.Kind)
	}
}

func TestCodecRoundTripHello(t *testing.T) {
	m := NewHello(WorkerInfo{Identifier: "w1", SimultaneousJobs: 2, SWVersion: "1"})
	got := roundTrip(t, m)
	require.NotNil(t, got.Hello)
	assert.Equal(t, *m.Hello, *got.Hello)
}

func TestCodecRoundTripJob(t *testing.T) {
	id := ulid.Make()
	m := NewJob(JobMsg{
		JobID:       id,
		Script:      "_trahl.log(_trahl.INFO, 'hi')",
		Vars:        map[string]string{"CACHEDIR": "/tmp/x", "SRCFILE": "/tmp/in.mkv"},
		File:        "movies/a.mkv",
		DstDir:      "/dst",
		LibraryRoot: "/src",
	})
	got := roundTrip(t, m)
	require.NotNil(t, got.Job)
	assert.Equal(t, m.Job.JobID, got.Job.JobID)
	assert.Equal(t, m.Job.Script, got.Job.Script)
	assert.Equal(t, m.Job.Vars, got.Job.Vars)
	assert.Equal(t, m.Job.File, got.Job.File)
	assert.Equal(t, m.Job.DstDir, got.Job.DstDir)
	assert.Equal(t, m.Job.LibraryRoot, got.Job.LibraryRoot)
}

func TestCodecRoundTripJobStatusProgress(t *testing.T) {
	id := ulid.Make()
	frame := int64(30)
	fps := 30.0
	curTime := time.Second
	pct := 10.0
	eta := 6 * time.Second
	bitrate := "500kbits/s"
	speed := 1.5

	m := NewJobStatus(JobStatusMsg{
		Timestamp: 123456,
		JobID:     id,
		Status: JobStatus{
			Kind: JobStatusProgress,
			Progress: &TranscodeProgress{
				Frame:      &frame,
				FPS:        &fps,
				CurTime:    &curTime,
				Percentage: &pct,
				ETA:        &eta,
				Bitrate:    &bitrate,
				Speed:      &speed,
			},
		},
	})
	got := roundTrip(t, m)
	require.NotNil(t, got.JobStatus)
	require.NotNil(t, got.JobStatus.Status.Progress)
	p := got.JobStatus.Status.Progress
	assert.Equal(t, frame, *p.Frame)
	assert.Equal(t, fps, *p.FPS)
	assert.Equal(t, curTime, *p.CurTime)
	assert.Equal(t, pct, *p.Percentage)
	assert.Equal(t, eta, *p.ETA)
	assert.Equal(t, bitrate, *p.Bitrate)
	assert.Equal(t, speed, *p.Speed)
	assert.Equal(t, m.JobStatus.Timestamp, got.JobStatus.Timestamp)
	assert.Equal(t, m.JobStatus.JobID, got.JobStatus.JobID)
}

func TestCodecRoundTripJobStatusDeclinedAndDone(t *testing.T) {
	id := ulid.Make()
	declined := NewJobStatus(JobStatusMsg{JobID: id, Status: JobStatus{Kind: JobStatusDeclined, Reason: "no workspace"}})
	got := roundTrip(t, declined)
	assert.Equal(t, JobStatusDeclined, got.JobStatus.Status.Kind)
	assert.Equal(t, "no workspace", got.JobStatus.Status.Reason)

	file := "dst_dir/out.mkv"
	done := NewJobStatus(JobStatusMsg{JobID: id, Status: JobStatus{Kind: JobStatusDone, File: &file}})
	got = roundTrip(t, done)
	require.NotNil(t, got.JobStatus.Status.File)
	assert.Equal(t, file, *got.JobStatus.Status.File)

	doneNoFile := NewJobStatus(JobStatusMsg{JobID: id, Status: JobStatus{Kind: JobStatusDone}})
	got = roundTrip(t, doneNoFile)
	assert.Nil(t, got.JobStatus.Status.File)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	m := NewHello(WorkerInfo{Identifier: "w1", SimultaneousJobs: 1, SWVersion: "dev"})
	require.NoError(t, WriteMessage(&buf, m))

	r := bufio.NewReader(&buf)
	got, err := ReadMessage(r)
	require.NoError(t, err)
	require.NotNil(t, got.Hello)
	assert.Equal(t, "w1", got.Hello.Identifier)
}
