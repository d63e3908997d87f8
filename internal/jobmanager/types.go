// Package jobmanager runs the dispatch loop: it pulls queued jobs from
// the catalog, hands them to the least-loaded capable peer, tracks
// their lifecycle from the peer's JobStatus reports, and writes
// terminal state back to the catalog.
package jobmanager

import (
	"github.com/oklog/ulid/v2"

	"github.com/trahl-dev/trahl/internal/peer"
)

// dispatchState is where a tracked job sits between being handed to a
// peer and reaching a terminal JobStatus.
type dispatchState int

const (
	stateSent dispatchState = iota
	stateRunning
)

// tracking is the in-memory record of one in-flight dispatch, keyed by
// its wire-level dispatch token (not the catalog row id).
type tracking struct {
	CatalogJobID uint
	Peer         peer.Identity
	State        dispatchState
}

// JobContract is the immutable bundle sent to a worker for one
// dispatch: everything it needs to run the script without consulting
// the catalog again.
type JobContract struct {
	JobID       ulid.ULID
	ScriptBody  string
	Vars        map[string]string
	SourceFile  string
	DestDir     string
	LibraryRoot string
}

// peerInfo is what the manager remembers about a connected peer for
// dispatch eligibility.
type peerInfo struct {
	WorkerIdentifier string
	SimultaneousJobs uint8
	WorkerDBID       uint
}
