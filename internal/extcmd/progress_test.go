package extcmd

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trahl-dev/trahl/internal/wire"
)

func TestParseProgressDerivesPercentageAndETA(t *testing.T) {
	block := "frame=30\nfps=30.0\nbitrate=500kbits/s\nspeed=1.5x\nout_time_ms=1000000\nprogress=continue\n"
	out := make(chan wire.TranscodeProgress, 1)

	ParseProgress(strings.NewReader(block), 10*time.Second, out)

	require.Len(t, out, 1)
	p := <-out

	require.NotNil(t, p.Frame)
	require.NotNil(t, p.FPS)
	require.NotNil(t, p.Bitrate)
	require.NotNil(t, p.Speed)
	require.NotNil(t, p.CurTime)
	require.NotNil(t, p.Percentage)
	require.NotNil(t, p.ETA)

	require.EqualValues(t, 30, *p.Frame)
	require.InDelta(t, 30.0, *p.FPS, 0.001)
	require.Equal(t, "500kbits/s", *p.Bitrate)
	require.InDelta(t, 1.5, *p.Speed, 0.001)
	require.Equal(t, time.Second, *p.CurTime)
	require.InDelta(t, 10.0, *p.Percentage, 0.001)
	require.Equal(t, 6*time.Second, *p.ETA)
}

func TestParseProgressCeilsNonIntegerPercentageAndRoundsFPS(t *testing.T) {
	block := "frame=30\nfps=29.97\nout_time_ms=1000000\nprogress=continue\n"
	out := make(chan wire.TranscodeProgress, 1)

	ParseProgress(strings.NewReader(block), 3*time.Second, out)

	require.Len(t, out, 1)
	p := <-out

	require.NotNil(t, p.FPS)
	require.NotNil(t, p.Percentage)
	require.InDelta(t, 30.0, *p.FPS, 0.001)
	// 1s of 3s is 33.33...%, which must round up, not truncate or round nearest.
	require.InDelta(t, 34.0, *p.Percentage, 0.001)
}

func TestParseProgressClampsPercentageTo100(t *testing.T) {
	block := "out_time_ms=2000000\nprogress=continue\n"
	out := make(chan wire.TranscodeProgress, 1)

	ParseProgress(strings.NewReader(block), time.Second, out)

	require.Len(t, out, 1)
	p := <-out

	require.NotNil(t, p.Percentage)
	require.InDelta(t, 100.0, *p.Percentage, 0.001)
}

func TestParseProgressStopsAtEnd(t *testing.T) {
	block := "frame=1\nout_time_ms=0\nprogress=continue\nframe=2\nout_time_ms=500000\nprogress=end\nframe=3\nprogress=continue\n"
	out := make(chan wire.TranscodeProgress, 4)

	ParseProgress(strings.NewReader(block), time.Second, out)

	require.Len(t, out, 2)
}
