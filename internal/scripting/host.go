// Package scripting embeds a gopher-lua virtual machine as the worker's
// job runner: one VM per job, driven from a single goroutine, exposing
// a fixed `_trahl` capability table to the script body.
package scripting

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/trahl-dev/trahl/internal/extcmd"
	"github.com/trahl-dev/trahl/internal/wire"
)

// Output placement modes, mirrored from the script-facing constants.
const (
	OutputPreserveDir = 1
	OutputFlat        = 2
	OutputOverwrite   = 3
)

// Log levels, mirrored from the script-facing constants.
const (
	LogDebug = iota
	LogInfo
	LogWarn
	LogError
)

// Host is one job's scripting VM. It is not safe for concurrent use;
// the worker job runner gives each job its own Host on its own
// goroutine, so "suspension" at the script level is simply a blocking
// call on that goroutine — it never blocks any other job.
type Host struct {
	logger     *slog.Logger
	vars       map[string]string
	ffmpegPath string
	prober     *extcmd.Prober
	httpClient *http.Client
	statusCh   chan<- wire.JobStatus

	outputFile string
	outputMode int
	hasOutput  bool
}

// New constructs a Host bound to one job's injected variables. statusCh
// receives every JobStatus the script's capability calls produce; the
// caller is expected to forward these to the master as JobStatusMsg.
func New(logger *slog.Logger, vars map[string]string, ffmpegPath, ffprobePath string, statusCh chan<- wire.JobStatus) *Host {
	return &Host{
		logger:     logger,
		vars:       vars,
		ffmpegPath: ffmpegPath,
		prober:     extcmd.NewProber(ffprobePath),
		httpClient: &http.Client{},
		statusCh:   statusCh,
	}
}

// Output returns the file and placement mode the script recorded via
// set_output, if any.
func (h *Host) Output() (file string, mode int, ok bool) {
	return h.outputFile, h.outputMode, h.hasOutput
}

// Run executes body to completion, blocking until the script returns,
// errors, or ctx is cancelled.
func (h *Host) Run(ctx context.Context, body string) error {
	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)

	h.registerGlobals(L, ctx)

	if err := L.DoString(body); err != nil {
		return fmt.Errorf("scripting: script error: %w", err)
	}
	return nil
}

func (h *Host) registerGlobals(L *lua.LState, ctx context.Context) {
	trahl := L.NewTable()

	trahl.RawSetString("INFO", lua.LNumber(LogInfo))
	trahl.RawSetString("WARN", lua.LNumber(LogWarn))
	trahl.RawSetString("ERROR", lua.LNumber(LogError))
	trahl.RawSetString("DEBUG", lua.LNumber(LogDebug))
	trahl.RawSetString("O_PRESERVE_DIR", lua.LNumber(OutputPreserveDir))
	trahl.RawSetString("O_FLAT", lua.LNumber(OutputFlat))
	trahl.RawSetString("O_OVERWRITE", lua.LNumber(OutputOverwrite))

	varsTable := L.NewTable()
	for k, v := range h.vars {
		varsTable.RawSetString(k, lua.LString(v))
	}
	protectReadOnly(L, varsTable)
	trahl.RawSetString("vars", varsTable)

	trahl.RawSetString("log", L.NewFunction(h.luaLog))
	trahl.RawSetString("delay_msec", L.NewFunction(h.withCtx(ctx, h.luaDelayMsec)))
	trahl.RawSetString("time", L.NewFunction(h.luaTime))
	trahl.RawSetString("http_request", L.NewFunction(h.withCtx(ctx, h.luaHTTPRequest)))
	trahl.RawSetString("from_json", L.NewFunction(h.luaFromJSON))
	trahl.RawSetString("ffprobe", L.NewFunction(h.withCtx(ctx, h.luaFFprobe)))
	trahl.RawSetString("ffmpeg", L.NewFunction(h.withCtx(ctx, h.luaFFmpeg)))
	trahl.RawSetString("milestone", L.NewFunction(h.luaMilestone))
	trahl.RawSetString("set_output", L.NewFunction(h.luaSetOutput))

	L.SetGlobal("_trahl", trahl)
}

// protectReadOnly installs a metatable that rejects writes, giving the
// vars table read-only semantics from the script's point of view.
func protectReadOnly(L *lua.LState, tbl *lua.LTable) {
	mt := L.NewTable()
	mt.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("vars is read-only")
		return 0
	}))
	L.SetMetatable(tbl, mt)
}

// withCtx adapts a (ctx, *lua.LState) builtin into the plain
// lua.LGFunction signature gopher-lua expects, closing over the job's
// context so suspension points observe cancellation.
func (h *Host) withCtx(ctx context.Context, fn func(context.Context, *lua.LState) int) lua.LGFunction {
	return func(L *lua.LState) int { return fn(ctx, L) }
}

func (h *Host) emit(ctx context.Context, status wire.JobStatus) {
	select {
	case h.statusCh <- status:
	case <-ctx.Done():
	}
}

func logLevelName(level int) string {
	switch level {
	case LogDebug:
		return "DEBUG"
	case LogInfo:
		return "INFO"
	case LogWarn:
		return "WARN"
	case LogError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (h *Host) luaLog(L *lua.LState) int {
	level := int(L.CheckNumber(1))
	msg := L.CheckString(2)
	line := fmt.Sprintf("[%s] %s", logLevelName(level), msg)
	h.logger.Info("script log", "level", logLevelName(level), "msg", msg)
	h.emit(L.Context(), wire.JobStatus{Kind: wire.JobStatusLog, Text: line})
	return 0
}

func (h *Host) luaDelayMsec(ctx context.Context, L *lua.LState) int {
	ms := L.CheckNumber(1)
	select {
	case <-time.After(time.Duration(float64(ms)) * time.Millisecond):
	case <-ctx.Done():
		L.RaiseError("delay_msec: cancelled")
	}
	return 0
}

func (h *Host) luaTime(L *lua.LState) int {
	L.Push(lua.LNumber(time.Now().Unix()))
	return 1
}

func (h *Host) luaMilestone(L *lua.LState) int {
	descr := L.CheckString(1)
	h.emit(L.Context(), wire.JobStatus{Kind: wire.JobStatusMilestone, Text: descr})
	return 0
}

func (h *Host) luaSetOutput(L *lua.LState) int {
	file := L.CheckString(1)
	mode := int(L.CheckNumber(2))
	h.outputFile = file
	h.outputMode = mode
	h.hasOutput = true
	return 0
}
