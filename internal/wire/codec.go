package wire

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers for the Message envelope.
const (
	fieldMsgKind = protowire.Number(1)
	fieldMsgBody = protowire.Number(2)
)

// Field numbers for WorkerInfo.
const (
	fieldWorkerIdentifier = protowire.Number(1)
	fieldWorkerSimulJobs  = protowire.Number(2)
	fieldWorkerSWVersion  = protowire.Number(3)
)

// Field numbers for JobMsg.
const (
	fieldJobID          = protowire.Number(1)
	fieldJobScript      = protowire.Number(2)
	fieldJobVarEntry    = protowire.Number(3)
	fieldJobFile        = protowire.Number(4)
	fieldJobDstDir      = protowire.Number(5)
	fieldJobLibraryRoot = protowire.Number(6)
)

// Field numbers for a single map entry embedded in JobMsg.vars.
const (
	fieldMapKey   = protowire.Number(1)
	fieldMapValue = protowire.Number(2)
)

// Field numbers for JobStatusMsg.
const (
	fieldStatusTimestamp = protowire.Number(1)
	fieldStatusJobID     = protowire.Number(2)
	fieldStatusKind      = protowire.Number(3)
	fieldStatusReason    = protowire.Number(4)
	fieldStatusProgress  = protowire.Number(5)
	fieldStatusText      = protowire.Number(6)
	fieldStatusFile      = protowire.Number(7)
)

// Field numbers for TranscodeProgress.
const (
	fieldProgFrame      = protowire.Number(1)
	fieldProgFPS        = protowire.Number(2)
	fieldProgCurTimeUs  = protowire.Number(3)
	fieldProgPercentage = protowire.Number(4)
	fieldProgETAUs      = protowire.Number(5)
	fieldProgBitrate    = protowire.Number(6)
	fieldProgSpeed      = protowire.Number(7)
)

// Encode serializes m as a self-describing, versionless (at the framing
// layer) binary payload. The caller is responsible for length-prefixing
// the result before writing it to a connection; see WriteFrame.
func Encode(m Message) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldMsgKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Kind))

	var body []byte
	var err error
	switch m.Kind {
	case KindHello:
		if m.Hello == nil {
			return nil, fmt.Errorf("wire: Hello message missing WorkerInfo")
		}
		body = encodeWorkerInfo(*m.Hello)
	case KindJob:
		if m.Job == nil {
			return nil, fmt.Errorf("wire: Job message missing JobMsg")
		}
		body = encodeJobMsg(*m.Job)
	case KindJobStatus:
		if m.JobStatus == nil {
			return nil, fmt.Errorf("wire: JobStatus message missing JobStatusMsg")
		}
		body, err = encodeJobStatusMsg(*m.JobStatus)
		if err != nil {
			return nil, err
		}
	case KindHelloAck, KindPing, KindPong, KindCancelJobs, KindBye:
		// no body
	default:
		return nil, fmt.Errorf("wire: unknown message kind %d", m.Kind)
	}

	if body != nil {
		b = protowire.AppendTag(b, fieldMsgBody, protowire.BytesType)
		b = protowire.AppendBytes(b, body)
	}
	return b, nil
}

// Decode parses a payload produced by Encode.
func Decode(b []byte) (Message, error) {
	var m Message
	var haveKind bool
	var body []byte

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("wire: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldMsgKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("wire: bad kind varint: %w", protowire.ParseError(n))
			}
			b = b[n:]
			m.Kind = Kind(v)
			haveKind = true
		case fieldMsgBody:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("wire: bad body bytes: %w", protowire.ParseError(n))
			}
			b = b[n:]
			body = v
		default:
			n, err := skipField(typ, b)
			if err != nil {
				return m, err
			}
			b = b[n:]
		}
	}

	if !haveKind {
		return m, fmt.Errorf("wire: message missing kind field")
	}

	var err error
	switch m.Kind {
	case KindHello:
		wi, derr := decodeWorkerInfo(body)
		if derr != nil {
			return m, derr
		}
		m.Hello = &wi
	case KindJob:
		j, derr := decodeJobMsg(body)
		if derr != nil {
			return m, derr
		}
		m.Job = &j
	case KindJobStatus:
		s, derr := decodeJobStatusMsg(body)
		if derr != nil {
			return m, derr
		}
		m.JobStatus = &s
	case KindHelloAck, KindPing, KindPong, KindCancelJobs, KindBye:
		// no body
	default:
		err = fmt.Errorf("wire: unknown message kind %d", m.Kind)
	}
	return m, err
}

func skipField(typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(0, typ, b)
	if n < 0 {
		return 0, fmt.Errorf("wire: bad field value: %w", protowire.ParseError(n))
	}
	return n, nil
}

func encodeWorkerInfo(w WorkerInfo) []byte {
	var b []byte
	b = appendString(b, fieldWorkerIdentifier, w.Identifier)
	b = protowire.AppendTag(b, fieldWorkerSimulJobs, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(w.SimultaneousJobs))
	b = appendString(b, fieldWorkerSWVersion, w.SWVersion)
	return b
}

func decodeWorkerInfo(b []byte) (WorkerInfo, error) {
	var w WorkerInfo
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldWorkerIdentifier:
			w.Identifier = string(v)
		case fieldWorkerSimulJobs:
			n, _ := protowire.ConsumeVarint(v)
			w.SimultaneousJobs = uint8(n)
		case fieldWorkerSWVersion:
			w.SWVersion = string(v)
		}
		return nil
	})
	return w, err
}

func encodeJobMsg(j JobMsg) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldJobID, protowire.BytesType)
	b = protowire.AppendBytes(b, j.JobID[:])
	b = appendString(b, fieldJobScript, j.Script)
	for k, v := range j.Vars {
		var entry []byte
		entry = appendString(entry, fieldMapKey, k)
		entry = appendString(entry, fieldMapValue, v)
		b = protowire.AppendTag(b, fieldJobVarEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	b = appendString(b, fieldJobFile, j.File)
	b = appendString(b, fieldJobDstDir, j.DstDir)
	b = appendString(b, fieldJobLibraryRoot, j.LibraryRoot)
	return b
}

func decodeJobMsg(b []byte) (JobMsg, error) {
	j := JobMsg{Vars: map[string]string{}}
	err := walkRaw(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch num {
		case fieldJobID:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return fmt.Errorf("wire: bad job_id: %w", protowire.ParseError(n))
			}
			copy(j.JobID[:], v)
		case fieldJobScript:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return fmt.Errorf("wire: bad script: %w", protowire.ParseError(n))
			}
			j.Script = string(v)
		case fieldJobVarEntry:
			entry, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return fmt.Errorf("wire: bad var entry: %w", protowire.ParseError(n))
			}
			var key, value string
			ierr := walkFields(entry, func(n protowire.Number, t protowire.Type, v []byte) error {
				switch n {
				case fieldMapKey:
					key = string(v)
				case fieldMapValue:
					value = string(v)
				}
				return nil
			})
			if ierr != nil {
				return ierr
			}
			j.Vars[key] = value
		case fieldJobFile:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return fmt.Errorf("wire: bad file: %w", protowire.ParseError(n))
			}
			j.File = string(v)
		case fieldJobDstDir:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return fmt.Errorf("wire: bad dst_dir: %w", protowire.ParseError(n))
			}
			j.DstDir = string(v)
		case fieldJobLibraryRoot:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return fmt.Errorf("wire: bad library_root: %w", protowire.ParseError(n))
			}
			j.LibraryRoot = string(v)
		}
		return nil
	})
	return j, err
}

func encodeJobStatusMsg(s JobStatusMsg) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldStatusTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, s.Timestamp)
	b = protowire.AppendTag(b, fieldStatusJobID, protowire.BytesType)
	b = protowire.AppendBytes(b, s.JobID[:])
	b = protowire.AppendTag(b, fieldStatusKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Status.Kind))
	if s.Status.Reason != "" {
		b = appendString(b, fieldStatusReason, s.Status.Reason)
	}
	if s.Status.Progress != nil {
		pb := encodeProgress(*s.Status.Progress)
		b = protowire.AppendTag(b, fieldStatusProgress, protowire.BytesType)
		b = protowire.AppendBytes(b, pb)
	}
	if s.Status.Text != "" {
		b = appendString(b, fieldStatusText, s.Status.Text)
	}
	if s.Status.File != nil {
		b = appendString(b, fieldStatusFile, *s.Status.File)
	}
	return b, nil
}

func decodeJobStatusMsg(b []byte) (JobStatusMsg, error) {
	var s JobStatusMsg
	err := walkRaw(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch num {
		case fieldStatusTimestamp:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return fmt.Errorf("wire: bad timestamp: %w", protowire.ParseError(n))
			}
			s.Timestamp = v
		case fieldStatusJobID:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return fmt.Errorf("wire: bad job_id: %w", protowire.ParseError(n))
			}
			copy(s.JobID[:], v)
		case fieldStatusKind:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return fmt.Errorf("wire: bad status kind: %w", protowire.ParseError(n))
			}
			s.Status.Kind = JobStatusKind(v)
		case fieldStatusReason:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return fmt.Errorf("wire: bad reason: %w", protowire.ParseError(n))
			}
			s.Status.Reason = string(v)
		case fieldStatusProgress:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return fmt.Errorf("wire: bad progress: %w", protowire.ParseError(n))
			}
			p, derr := decodeProgress(v)
			if derr != nil {
				return derr
			}
			s.Status.Progress = &p
		case fieldStatusText:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return fmt.Errorf("wire: bad text: %w", protowire.ParseError(n))
			}
			s.Status.Text = string(v)
		case fieldStatusFile:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return fmt.Errorf("wire: bad file: %w", protowire.ParseError(n))
			}
			file := string(v)
			s.Status.File = &file
		}
		return nil
	})
	return s, err
}

func encodeProgress(p TranscodeProgress) []byte {
	var b []byte
	if p.Frame != nil {
		b = protowire.AppendTag(b, fieldProgFrame, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*p.Frame))
	}
	if p.FPS != nil {
		b = protowire.AppendTag(b, fieldProgFPS, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(*p.FPS))
	}
	if p.CurTime != nil {
		b = protowire.AppendTag(b, fieldProgCurTimeUs, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.CurTime.Microseconds()))
	}
	if p.Percentage != nil {
		b = protowire.AppendTag(b, fieldProgPercentage, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(*p.Percentage))
	}
	if p.ETA != nil {
		b = protowire.AppendTag(b, fieldProgETAUs, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.ETA.Microseconds()))
	}
	if p.Bitrate != nil {
		b = appendString(b, fieldProgBitrate, *p.Bitrate)
	}
	if p.Speed != nil {
		b = protowire.AppendTag(b, fieldProgSpeed, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(*p.Speed))
	}
	return b
}

func decodeProgress(b []byte) (TranscodeProgress, error) {
	var p TranscodeProgress
	err := walkRaw(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch num {
		case fieldProgFrame:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return fmt.Errorf("wire: bad frame: %w", protowire.ParseError(n))
			}
			frame := int64(v)
			p.Frame = &frame
		case fieldProgFPS:
			v, n := protowire.ConsumeFixed64(raw)
			if n < 0 {
				return fmt.Errorf("wire: bad fps: %w", protowire.ParseError(n))
			}
			fps := math.Float64frombits(v)
			p.FPS = &fps
		case fieldProgCurTimeUs:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return fmt.Errorf("wire: bad cur_time: %w", protowire.ParseError(n))
			}
			d := time.Duration(v) * time.Microsecond
			p.CurTime = &d
		case fieldProgPercentage:
			v, n := protowire.ConsumeFixed64(raw)
			if n < 0 {
				return fmt.Errorf("wire: bad percentage: %w", protowire.ParseError(n))
			}
			pct := math.Float64frombits(v)
			p.Percentage = &pct
		case fieldProgETAUs:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return fmt.Errorf("wire: bad eta: %w", protowire.ParseError(n))
			}
			d := time.Duration(v) * time.Microsecond
			p.ETA = &d
		case fieldProgBitrate:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return fmt.Errorf("wire: bad bitrate: %w", protowire.ParseError(n))
			}
			s := string(v)
			p.Bitrate = &s
		case fieldProgSpeed:
			v, n := protowire.ConsumeFixed64(raw)
			if n < 0 {
				return fmt.Errorf("wire: bad speed: %w", protowire.ParseError(n))
			}
			speed := math.Float64frombits(v)
			p.Speed = &speed
		}
		return nil
	})
	return p, err
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendString(b, s)
	return b
}

// walkFields iterates tag/value pairs in b, passing the raw decoded
// value (string/bytes payload) to fn. Used where every field is a
// length-delimited scalar (strings, nested map entries).
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("wire: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("wire: bad bytes: %w", protowire.ParseError(n))
			}
			if err := fn(num, typ, v); err != nil {
				return err
			}
			b = b[n:]
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("wire: bad varint: %w", protowire.ParseError(n))
			}
			buf := protowire.AppendVarint(nil, v)
			if err := fn(num, typ, buf); err != nil {
				return err
			}
			b = b[n:]
		default:
			n, err := skipField(typ, b)
			if err != nil {
				return err
			}
			b = b[n:]
		}
	}
	return nil
}

// walkRaw iterates tag/value pairs in b, passing the still-encoded
// remainder (including the value's own varint header for Bytes fields)
// to fn, which is expected to Consume it itself. Used where fields have
// mixed wire types (varint and bytes within the same message).
func walkRaw(b []byte, fn func(num protowire.Number, typ protowire.Type, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("wire: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		valLen := protowire.ConsumeFieldValue(num, typ, b)
		if valLen < 0 {
			return fmt.Errorf("wire: bad field value: %w", protowire.ParseError(valLen))
		}
		if err := fn(num, typ, b[:valLen]); err != nil {
			return err
		}
		b = b[valLen:]
	}
	return nil
}
