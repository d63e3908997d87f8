package extcmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// ProbeResult is ffprobe's decoded JSON document — format and streams
// both, unmodified, for the script's ffprobe capability to inspect.
type ProbeResult struct {
	Raw map[string]interface{}
}

// Prober runs ffprobe against local files.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber constructs a Prober bound to the given ffprobe binary.
func NewProber(ffprobePath string) *Prober {
	return &Prober{ffprobePath: ffprobePath, timeout: 30 * time.Second}
}

// Probe runs ffprobe against path and parses its JSON output.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", path}
	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("extcmd: probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("extcmd: ffprobe failed: %w", err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result.Raw); err != nil {
		return nil, fmt.Errorf("extcmd: parsing ffprobe output: %w", err)
	}
	return &result, nil
}
