// Package pidalloc assigns partition IDs.
//
// Allocation runs in two passes. Explicit IDs are reserved as manifests are
// loaded; once every manifest is known, the remaining partitions receive
// consecutive IDs above the highest reserved one (and above the platform
// range), in the order they were queued.
package pidalloc

import (
	"github.com/c360studio/partdb/manifest"
)

// Allocator tracks reserved IDs and the partitions waiting for one. It is
// not safe for concurrent use; each build owns a fresh Allocator.
type Allocator struct {
	used   map[int]string
	max    int
	queued []string
}

// New returns an empty Allocator.
func New() *Allocator {
	return &Allocator{
		used: make(map[int]string),
		max:  manifest.ReservedPIDLimit - 1,
	}
}

// Reserve records an explicit partition ID for the named partition.
func (a *Allocator) Reserve(name string, pid int) error {
	if owner, ok := a.used[pid]; ok {
		return manifest.Errorf(manifest.ErrDuplicatePID, name,
			"PID No. %d has already been used by %s", pid, owner)
	}
	a.used[pid] = name
	if pid > a.max {
		a.max = pid
	}
	return nil
}

// Queue adds a partition that needs an assigned ID.
func (a *Allocator) Queue(name string) {
	a.queued = append(a.queued, name)
}

// Pending returns the number of queued partitions.
func (a *Allocator) Pending() int {
	return len(a.queued)
}

// Assign hands out IDs to queued partitions in queue order and returns them
// in the same order. Assigned IDs are reserved, so Assign can be called
// again after more partitions are queued.
func (a *Allocator) Assign() ([]int, error) {
	pids := make([]int, 0, len(a.queued))
	next := a.max
	for _, name := range a.queued {
		next++
		if err := a.Reserve(name, next); err != nil {
			return nil, err
		}
		pids = append(pids, next)
	}
	a.queued = nil
	return pids, nil
}

// Used reports whether pid is reserved.
func (a *Allocator) Used(pid int) bool {
	_, ok := a.used[pid]
	return ok
}
