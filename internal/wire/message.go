// Package wire defines the master<->worker control messages and their
// binary encoding.
package wire

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind identifies which variant a Message carries. The set is closed;
// new variants must be appended at the end to keep the wire stable
// (no protocol version travels in Hello today).
type Kind uint8

const (
	KindHello Kind = iota + 1
	KindHelloAck
	KindPing
	KindPong
	KindJob
	KindJobStatus
	KindCancelJobs
	KindBye
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "Hello"
	case KindHelloAck:
		return "HelloAck"
	case KindPing:
		return "Ping"
	case KindPong:
		return "Pong"
	case KindJob:
		return "Job"
	case KindJobStatus:
		return "JobStatus"
	case KindCancelJobs:
		return "CancelJobs"
	case KindBye:
		return "Bye"
	default:
		return "Unknown"
	}
}

// WorkerInfo is the payload of Hello: W->M.
type WorkerInfo struct {
	Identifier       string
	SimultaneousJobs uint8
	SWVersion        string
}

// JobMsg is the payload of Job: M->W.
type JobMsg struct {
	JobID       ulid.ULID
	Script      string
	Vars        map[string]string
	File        string
	DstDir      string
	LibraryRoot string
}

// JobStatusKind identifies a JobStatus variant.
type JobStatusKind uint8

const (
	JobStatusAck JobStatusKind = iota + 1
	JobStatusDeclined
	JobStatusProgress
	JobStatusCopying
	JobStatusMilestone
	JobStatusLog
	JobStatusError
	JobStatusDone
)

// TranscodeProgress mirrors one completed ffmpeg -progress block.
// Fields are pointers because every one of them is optional on the wire.
type TranscodeProgress struct {
	Frame      *int64
	FPS        *float64
	CurTime    *time.Duration
	Percentage *float64
	ETA        *time.Duration
	Bitrate    *string
	Speed      *float64
}

// JobStatus is a tagged union; only the field matching Kind is meaningful.
type JobStatus struct {
	Kind     JobStatusKind
	Reason   string              // Declined
	Progress *TranscodeProgress  // Progress
	Text     string              // Milestone, Log, Error
	File     *string             // Done
}

// JobStatusMsg is the payload of JobStatus: W->M.
type JobStatusMsg struct {
	Timestamp uint64
	JobID     ulid.ULID
	Status    JobStatus
}

// Message is the envelope carried over the wire; exactly one of the
// pointer fields matching Kind is populated.
type Message struct {
	Kind      Kind
	Hello     *WorkerInfo
	Job       *JobMsg
	JobStatus *JobStatusMsg
}

// NewHelloAck, NewPing, NewPong, NewCancelJobs, NewBye are zero-payload
// convenience constructors for the variants without a body.
func NewHelloAck() Message     { return Message{Kind: KindHelloAck} }
func NewPing() Message         { return Message{Kind: KindPing} }
func NewPong() Message         { return Message{Kind: KindPong} }
func NewCancelJobs() Message   { return Message{Kind: KindCancelJobs} }
func NewBye() Message          { return Message{Kind: KindBye} }

func NewHello(w WorkerInfo) Message {
	return Message{Kind: KindHello, Hello: &w}
}

func NewJob(j JobMsg) Message {
	return Message{Kind: KindJob, Job: &j}
}

func NewJobStatus(s JobStatusMsg) Message {
	return Message{Kind: KindJobStatus, JobStatus: &s}
}
