package extcmd

import (
	"bufio"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/trahl-dev/trahl/internal/wire"
)

// ParseProgress reads ffmpeg's `-progress pipe:1` key=value stream and
// emits one wire.TranscodeProgress per block, terminated by a
// "progress=continue" or "progress=end" line. duration is the source's
// total length, used to derive Percentage and ETA from out_time_ms.
func ParseProgress(r io.Reader, duration time.Duration, out chan<- wire.TranscodeProgress) {
	scanner := bufio.NewScanner(r)

	var frame *int64
	var fps *float64
	var bitrate *string
	var speed *float64
	var curTime *time.Duration

	reset := func() {
		frame, fps, bitrate, speed, curTime = nil, nil, nil, nil, nil
	}

	emit := func() {
		p := wire.TranscodeProgress{Frame: frame, FPS: fps, Bitrate: bitrate, Speed: speed, CurTime: curTime}
		if curTime != nil && duration > 0 {
			pct := math.Ceil(100 * float64(*curTime) / float64(duration))
			if pct > 100 {
				pct = 100
			}
			p.Percentage = &pct
			if speed != nil && *speed > 0 {
				eta := time.Duration(float64(duration-*curTime) / *speed)
				p.ETA = &eta
			}
		}
		select {
		case out <- p:
		default:
		}
		reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch key {
		case "frame":
			if v, err := strconv.ParseInt(value, 10, 64); err == nil {
				frame = &v
			}
		case "fps":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				r := math.Round(v)
				fps = &r
			}
		case "bitrate":
			v := value
			bitrate = &v
		case "speed":
			v := strings.TrimSuffix(value, "x")
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				speed = &f
			}
		case "out_time_ms":
			if v, err := strconv.ParseInt(value, 10, 64); err == nil {
				d := time.Duration(v) * time.Microsecond
				curTime = &d
			}
		case "progress":
			emit()
			if value == "end" {
				return
			}
		}
	}
}
