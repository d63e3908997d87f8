// Package fsremap rewrites shared-filesystem paths between the
// master's and a worker's view of the same underlying storage.
package fsremap

import "strings"

// Pair is one (master_prefix, worker_prefix) remap rule.
type Pair struct {
	Master string
	Worker string
}

// Table is an ordered list of remap pairs, applied first-match-wins.
type Table []Pair

// ToWorker rewrites a master-view path to its worker-view equivalent:
// the first pair whose Master prefix matches has its prefix swapped
// for Worker. A path matching no pair is returned unchanged.
func (t Table) ToWorker(path string) string {
	for _, p := range t {
		if rest, ok := strings.CutPrefix(path, p.Master); ok {
			return p.Worker + rest
		}
	}
	return path
}

// ToMaster is the inverse of ToWorker.
func (t Table) ToMaster(path string) string {
	for _, p := range t {
		if rest, ok := strings.CutPrefix(path, p.Worker); ok {
			return p.Master + rest
		}
	}
	return path
}
