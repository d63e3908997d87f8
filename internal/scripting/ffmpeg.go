package scripting

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/trahl-dev/trahl/internal/extcmd"
	"github.com/trahl-dev/trahl/internal/wire"
)

// luaFFprobe implements _trahl.ffprobe(path) -> table.
func (h *Host) luaFFprobe(ctx context.Context, L *lua.LState) int {
	path := L.CheckString(1)

	result, err := h.prober.Probe(ctx, path)
	if err != nil {
		L.RaiseError("ffprobe: %s", err)
		return 0
	}

	L.Push(goToLua(L, result.Raw))
	return 1
}

// luaFFmpeg implements _trahl.ffmpeg(duration_seconds, args) -> bool.
// It appends the fixed progress flags to the script-supplied argument
// list, runs the subprocess, and emits a Progress status per completed
// -progress block and a Log status per stderr line as they arrive.
func (h *Host) luaFFmpeg(ctx context.Context, L *lua.LState) int {
	durationSeconds := float64(L.CheckNumber(1))
	argsTbl := L.CheckTable(2)

	args := luaToStringSlice(argsTbl)
	args = append(args, "-progress", "pipe:1", "-nostats", "-y")

	cmd := &extcmd.Command{Binary: h.ffmpegPath, Args: args}
	duration := time.Duration(durationSeconds * float64(time.Second))

	err := cmd.RunWithProgressAndLogs(ctx, duration,
		func(p wire.TranscodeProgress) {
			h.emit(ctx, wire.JobStatus{Kind: wire.JobStatusProgress, Progress: &p})
		},
		func(line string) {
			h.emit(ctx, wire.JobStatus{Kind: wire.JobStatusLog, Text: line})
		},
	)
	if err != nil {
		L.RaiseError("ffmpeg: %s", err)
		return 0
	}

	L.Push(lua.LBool(true))
	return 1
}
