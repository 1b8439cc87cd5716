package stateless

import (
	"fmt"

	"github.com/c360studio/partdb/manifest"
)

// Candidate is a stateless service found while scanning partitions.
type Candidate struct {
	Partition string
	Service   *manifest.Service
}

// Slot is one entry of the stateless service table.
type Slot struct {
	// Service is nil for an unused slot.
	Service   *manifest.Service
	Partition string
	// Index is the zero-based slot index.
	Index  int
	Handle uint32
}

// Empty reports whether the slot is unused.
func (s Slot) Empty() bool {
	return s.Service == nil
}

// HandleHex renders the handle as the 8-digit hex literal used in
// generated sources.
func (s Slot) HandleHex() string {
	return fmt.Sprintf("0x%08x", s.Handle)
}

// Table is the stateless service table, indexed by slot.
type Table struct {
	Capacity int
	Slots    []Slot
}

// Used returns the number of occupied slots.
func (t Table) Used() int {
	n := 0
	for _, s := range t.Slots {
		if !s.Empty() {
			n++
		}
	}
	return n
}

// Collect gathers stateless services in partition order. Partitions on
// framework versions before 1.1 have no stateless services and are
// skipped; on 1.1 and later every service must say whether it is
// connection based.
func Collect(partitions []*manifest.Partition) ([]Candidate, error) {
	var candidates []Candidate
	for _, p := range partitions {
		if !p.Document.FrameworkVersion.AtLeast(manifest.Version11) {
			continue
		}
		for _, svc := range p.Document.Services {
			if svc.ConnectionBased == nil {
				return nil, manifest.ServiceErrorf(manifest.ErrMissingField, p.Name, svc.Name,
					"\"connection_based\" is mandatory in FF-M %s services", p.Document.FrameworkVersion)
			}
			if !*svc.ConnectionBased {
				candidates = append(candidates, Candidate{Partition: p.Name, Service: svc})
			}
		}
	}
	return candidates, nil
}

// Allocate places candidates into a table of layout.Capacity slots and
// encodes their handles. Services pinning a handle take slot handle-1;
// the rest fill the remaining slots from the lowest index, in candidate
// order. An empty candidate list yields an empty table.
func Allocate(candidates []Candidate, layout Layout) (Table, error) {
	if len(candidates) == 0 {
		return Table{Capacity: layout.Capacity}, nil
	}
	if err := layout.Validate(); err != nil {
		return Table{}, fmt.Errorf("stateless handle layout: %w", err)
	}
	if len(candidates) > layout.Capacity {
		return Table{}, manifest.Errorf(manifest.ErrCapacityExceeded, "",
			"%d stateless services exceed the limit of %d", len(candidates), layout.Capacity)
	}

	slots := make([]*Candidate, layout.Capacity)
	var auto []*Candidate

	for i := range candidates {
		c := &candidates[i]
		h := c.Service.StatelessHandle
		switch h.Kind {
		case manifest.HandleUnset, manifest.HandleAuto:
			auto = append(auto, c)
		case manifest.HandleFixed:
			if h.Value < 1 || h.Value > layout.Capacity {
				return Table{}, manifest.ServiceErrorf(manifest.ErrInvalidHandle, c.Partition, c.Service.Name,
					"stateless_handle %d out of range [1, %d]", h.Value, layout.Capacity)
			}
			idx := h.Value - 1
			if slots[idx] != nil {
				return Table{}, manifest.ServiceErrorf(manifest.ErrDuplicateHandle, c.Partition, c.Service.Name,
					"stateless_handle %d already used by %s", h.Value, slotOwner(slots[idx]))
			}
			slots[idx] = c
		default:
			return Table{}, manifest.ServiceErrorf(manifest.ErrInvalidHandle, c.Partition, c.Service.Name,
				"invalid stateless_handle setting %q", h.Raw)
		}
	}

	for i := range slots {
		if slots[i] == nil && len(auto) > 0 {
			slots[i] = auto[0]
			auto = auto[1:]
		}
	}

	table := Table{Capacity: layout.Capacity, Slots: make([]Slot, layout.Capacity)}
	for i, c := range slots {
		table.Slots[i] = Slot{Index: i}
		if c == nil {
			continue
		}
		table.Slots[i] = Slot{
			Service:   c.Service,
			Partition: c.Partition,
			Index:     i,
			Handle:    layout.Encode(i, c.Service.Version),
		}
	}
	return table, nil
}

func slotOwner(c *Candidate) string {
	if c.Service.Name != "" {
		return c.Partition + "/" + c.Service.Name
	}
	return c.Partition
}
