// Package peer implements the master-side router transport, one actor
// per connected worker, and the worker-side dealer client.
package peer

import "github.com/google/uuid"

// Identity is the transport-assigned opaque tag for one accepted
// connection. The master never tracks peers by network address — only
// by this identity; a new TCP connection from the same worker process
// yields a new Identity.
type Identity string

// NewIdentity mints a fresh identity for a newly accepted connection.
func NewIdentity() Identity {
	return Identity(uuid.NewString())
}
