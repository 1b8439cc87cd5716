package stateless

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/partdb/manifest"
)

// testLayout mirrors the SPM defaults: 32 slots, 5 index bits, indicator
// at bit 30 and an 8 bit version at bit 8.
var testLayout = Layout{
	Capacity:        32,
	IndexBitWidth:   5,
	IndicatorOffset: 30,
	VersionOffset:   8,
	VersionBitWidth: 8,
}

func boolPtr(b bool) *bool { return &b }

func candidate(name string, version int, handle manifest.Handle) Candidate {
	return Candidate{
		Partition: "P",
		Service: &manifest.Service{
			Name:            name,
			SID:             name,
			Version:         version,
			ConnectionBased: boolPtr(false),
			StatelessHandle: handle,
		},
	}
}

func TestLayoutEncode(t *testing.T) {
	assert.Equal(t, uint32(0x1f), testLayout.IndexMask())
	assert.Equal(t, uint32(1<<30), testLayout.IndicatorBit())
	assert.Equal(t, uint32(0xff), testLayout.VersionMask())

	assert.Equal(t, uint32(0x40000100), testLayout.Encode(0, 1))
	assert.Equal(t, uint32(0x40000203), testLayout.Encode(3, 2))
	// Fields are masked to their widths
	assert.Equal(t, uint32(0x40000001), testLayout.Encode(33, 0x100))
}

func TestLayoutValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Layout)
		wantErr bool
	}{
		{"valid", func(l *Layout) {}, false},
		{"zero capacity", func(l *Layout) { l.Capacity = 0 }, true},
		{"capacity needs more index bits", func(l *Layout) { l.Capacity = 33 }, true},
		{"index too wide", func(l *Layout) { l.IndexBitWidth = 33 }, true},
		{"indicator out of range", func(l *Layout) { l.IndicatorOffset = 32 }, true},
		{"version overflows", func(l *Layout) { l.VersionOffset = 28 }, true},
		{"other widths", func(l *Layout) {
			l.Capacity = 8
			l.IndexBitWidth = 3
			l.IndicatorOffset = 31
			l.VersionOffset = 16
			l.VersionBitWidth = 4
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := testLayout
			tt.modify(&l)
			err := l.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCollect(t *testing.T) {
	old := &manifest.Partition{
		Name: "OLD",
		Document: &manifest.Document{
			FrameworkVersion: manifest.Version{Major: 1},
			Services:         []*manifest.Service{{Name: "LEGACY", SID: "1"}},
		},
	}
	current := &manifest.Partition{
		Name: "NEW",
		Document: &manifest.Document{
			FrameworkVersion: manifest.Version11,
			Services: []*manifest.Service{
				{Name: "S1", SID: "2", ConnectionBased: boolPtr(false)},
				{Name: "C1", SID: "3", ConnectionBased: boolPtr(true)},
				{Name: "S2", SID: "4", ConnectionBased: boolPtr(false)},
			},
		},
	}

	got, err := Collect([]*manifest.Partition{old, current})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "S1", got[0].Service.Name)
	assert.Equal(t, "S2", got[1].Service.Name)
	assert.Equal(t, "NEW", got[0].Partition)
}

func TestCollectRequiresConnectionBased(t *testing.T) {
	p := &manifest.Partition{
		Name: "NEW",
		Document: &manifest.Document{
			FrameworkVersion: manifest.Version11,
			Services:         []*manifest.Service{{Name: "S1", SID: "2"}},
		},
	}
	_, err := Collect([]*manifest.Partition{p})
	require.Error(t, err)
	assert.True(t, errors.Is(err, manifest.ErrMissingField))
}

func TestAllocateExplicitHandle(t *testing.T) {
	pinned := candidate("PINNED", 1, manifest.FixedHandle(3))
	orders := [][]Candidate{
		{pinned, candidate("A", 1, manifest.Handle{}), candidate("B", 1, manifest.AutoHandle())},
		{candidate("A", 1, manifest.Handle{}), candidate("B", 1, manifest.AutoHandle()), pinned},
	}

	for i, cands := range orders {
		t.Run(fmt.Sprintf("order %d", i), func(t *testing.T) {
			table, err := Allocate(cands, testLayout)
			require.NoError(t, err)
			assert.Equal(t, "PINNED", table.Slots[2].Service.Name)
			assert.Equal(t, "A", table.Slots[0].Service.Name)
			assert.Equal(t, "B", table.Slots[1].Service.Name)
			assert.Equal(t, 3, table.Used())
		})
	}
}

func TestAllocateAutoFillsGaps(t *testing.T) {
	cands := []Candidate{
		candidate("A", 1, manifest.AutoHandle()),
		candidate("PIN1", 1, manifest.FixedHandle(1)),
		candidate("B", 1, manifest.Handle{}),
	}
	table, err := Allocate(cands, testLayout)
	require.NoError(t, err)
	assert.Equal(t, "PIN1", table.Slots[0].Service.Name)
	assert.Equal(t, "A", table.Slots[1].Service.Name)
	assert.Equal(t, "B", table.Slots[2].Service.Name)
}

func TestAllocateDuplicateHandle(t *testing.T) {
	cands := []Candidate{
		candidate("FIRST", 1, manifest.FixedHandle(3)),
		candidate("SECOND", 1, manifest.FixedHandle(3)),
	}
	_, err := Allocate(cands, testLayout)
	require.Error(t, err)
	assert.True(t, errors.Is(err, manifest.ErrDuplicateHandle))

	var merr *manifest.Error
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, "SECOND", merr.Service)
}

func TestAllocateInvalidHandle(t *testing.T) {
	layout := testLayout
	layout.Capacity = 4

	tests := []struct {
		name   string
		handle manifest.Handle
	}{
		{"zero", manifest.FixedHandle(0)},
		{"negative", manifest.FixedHandle(-1)},
		{"above capacity", manifest.FixedHandle(5)},
		{"unsupported string", manifest.Handle{Kind: manifest.HandleInvalid, Raw: "first"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Allocate([]Candidate{candidate("S", 1, tt.handle)}, layout)
			require.Error(t, err)
			assert.True(t, errors.Is(err, manifest.ErrInvalidHandle), "got %v", err)
		})
	}
}

func TestAllocateCapacity(t *testing.T) {
	layout := testLayout
	layout.Capacity = 2

	cands := []Candidate{
		candidate("A", 1, manifest.Handle{}),
		candidate("B", 1, manifest.Handle{}),
		candidate("C", 1, manifest.Handle{}),
	}
	_, err := Allocate(cands, layout)
	require.Error(t, err)
	assert.True(t, errors.Is(err, manifest.ErrCapacityExceeded))
}

func TestAllocateEncodesVersions(t *testing.T) {
	layout := testLayout
	layout.Capacity = 4

	cands := []Candidate{
		candidate("V1", 1, manifest.Handle{}),
		candidate("V2", 2, manifest.Handle{}),
		candidate("V3", 3, manifest.Handle{}),
	}
	table, err := Allocate(cands, layout)
	require.NoError(t, err)
	require.Len(t, table.Slots, 4)

	for i, name := range []string{"V1", "V2", "V3"} {
		slot := table.Slots[i]
		assert.Equal(t, name, slot.Service.Name)
		assert.Equal(t, i, slot.Index)
		assert.Equal(t, layout.Encode(i, i+1), slot.Handle)
	}

	first := table.Slots[0].Handle
	assert.NotZero(t, first&layout.IndicatorBit())
	assert.Zero(t, first&layout.IndexMask())
	assert.Equal(t, "0x40000100", table.Slots[0].HandleHex())
	assert.Equal(t, "0x40000302", table.Slots[2].HandleHex())

	assert.True(t, table.Slots[3].Empty())
	assert.Zero(t, table.Slots[3].Handle)
	assert.Equal(t, 3, table.Slots[3].Index)
}

func TestAllocateEmpty(t *testing.T) {
	// The layout is not consulted without candidates
	table, err := Allocate(nil, Layout{})
	require.NoError(t, err)
	assert.Empty(t, table.Slots)
	assert.Equal(t, 0, table.Used())
}

func TestAllocateDeterministic(t *testing.T) {
	cands := []Candidate{
		candidate("A", 1, manifest.Handle{}),
		candidate("B", 2, manifest.FixedHandle(5)),
		candidate("C", 3, manifest.AutoHandle()),
	}
	first, err := Allocate(cands, testLayout)
	require.NoError(t, err)
	second, err := Allocate(cands, testLayout)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
