// Package stateless allocates handles for stateless services.
//
// A stateless service has no connection, so clients address it with a
// handle fixed at build time. The handle packs the slot index, a stateless
// indicator bit and the service version into 32 bits; the field widths and
// offsets, and the number of slots, come from the platform.
package stateless

import (
	"fmt"
)

// Layout is the bit layout of a stateless handle and the slot capacity.
type Layout struct {
	Capacity        int `yaml:"capacity" json:"capacity" toml:"capacity"`
	IndexBitWidth   int `yaml:"index_bit_width" json:"index_bit_width" toml:"index_bit_width"`
	IndicatorOffset int `yaml:"indicator_offset" json:"indicator_offset" toml:"indicator_offset"`
	VersionOffset   int `yaml:"version_offset" json:"version_offset" toml:"version_offset"`
	VersionBitWidth int `yaml:"version_bit_width" json:"version_bit_width" toml:"version_bit_width"`
}

// Validate checks that every field fits in a 32-bit handle and that all
// slot indices can be encoded.
func (l Layout) Validate() error {
	if l.Capacity <= 0 {
		return fmt.Errorf("stateless handle capacity must be positive, got %d", l.Capacity)
	}
	if l.IndexBitWidth <= 0 || l.IndexBitWidth > 32 {
		return fmt.Errorf("index bit width %d out of range [1, 32]", l.IndexBitWidth)
	}
	if l.IndicatorOffset < 0 || l.IndicatorOffset > 31 {
		return fmt.Errorf("indicator offset %d out of range [0, 31]", l.IndicatorOffset)
	}
	if l.VersionBitWidth < 0 || l.VersionOffset < 0 || l.VersionOffset+l.VersionBitWidth > 32 {
		return fmt.Errorf("version field at offset %d width %d does not fit 32 bits", l.VersionOffset, l.VersionBitWidth)
	}
	if uint64(l.Capacity-1) > uint64(l.IndexMask()) {
		return fmt.Errorf("capacity %d does not fit in %d index bits", l.Capacity, l.IndexBitWidth)
	}
	return nil
}

// IndexMask masks the slot index field.
func (l Layout) IndexMask() uint32 {
	return mask(l.IndexBitWidth)
}

// IndicatorBit is the bit marking a handle as stateless.
func (l Layout) IndicatorBit() uint32 {
	return 1 << uint(l.IndicatorOffset)
}

// VersionMask masks the service version before it is shifted into place.
func (l Layout) VersionMask() uint32 {
	return mask(l.VersionBitWidth)
}

// Encode packs a zero-based slot index and a service version into a handle.
func (l Layout) Encode(index, version int) uint32 {
	h := uint32(index) & l.IndexMask()
	h |= l.IndicatorBit()
	h |= (uint32(version) & l.VersionMask()) << uint(l.VersionOffset)
	return h
}

func mask(width int) uint32 {
	if width >= 32 {
		return ^uint32(0)
	}
	if width <= 0 {
		return 0
	}
	return (1 << uint(width)) - 1
}
