package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/partdb/stateless"
)

const spmHeader = `
#ifndef __SPM_IPC_H__
#define __SPM_IPC_H__

/* Number of stateless handles; keep in sync with the partitions */
#define STATIC_HANDLE_NUM_LIMIT         32

/*
 * #define STATIC_HANDLE_IDX_BIT_WIDTH 7
 */
#define STATIC_HANDLE_IDX_BIT_WIDTH     5
#define STATIC_HANDLE_IDX_MASK \
    (uint32_t)((1UL << STATIC_HANDLE_IDX_BIT_WIDTH) - 1)
#define STATIC_HANDLE_INDICATOR_OFFSET  30
#define STATIC_HANDLE_VER_OFFSET        (8)
#define STATIC_HANDLE_VER_BIT_WIDTH \
    8u // version field width

#endif /* __SPM_IPC_H__ */
`

func TestHeaderInt(t *testing.T) {
	h := ParseHeader("spm_ipc.h", spmHeader)

	tests := []struct {
		name string
		want int
	}{
		{MacroCapacity, 32},
		{MacroIndexBitWidth, 5},
		{MacroIndicatorOffset, 30},
		{MacroVersionOffset, 8},
		{MacroVersionBitWidth, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.Int(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHeaderMacroErrors(t *testing.T) {
	h := ParseHeader("test.h", `
#define TWICE 1
#define TWICE 2
#define NOT_A_NUMBER foo
`)

	_, err := h.Int("TWICE")
	assert.ErrorContains(t, err, "multiple definitions")

	_, err = h.Int("MISSING")
	assert.ErrorContains(t, err, "not defined")

	_, err = h.Int("NOT_A_NUMBER")
	assert.ErrorContains(t, err, "not an integer")
}

func TestHeaderHexValue(t *testing.T) {
	h := ParseHeader("test.h", "#define MASK 0x1FUL\n")
	v, err := h.Int("MASK")
	require.NoError(t, err)
	assert.Equal(t, 31, v)
}

func TestLayoutFromHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spm_ipc.h")
	require.NoError(t, os.WriteFile(path, []byte(spmHeader), 0644))

	h, err := LoadHeader(path)
	require.NoError(t, err)

	layout, err := LayoutFrom(h)
	require.NoError(t, err)
	assert.Equal(t, stateless.Layout{
		Capacity:        32,
		IndexBitWidth:   5,
		IndicatorOffset: 30,
		VersionOffset:   8,
		VersionBitWidth: 8,
	}, layout)
}

func TestLayoutFromRejectsInconsistentLayout(t *testing.T) {
	h := ParseHeader("test.h", `
#define STATIC_HANDLE_NUM_LIMIT 64
#define STATIC_HANDLE_IDX_BIT_WIDTH 5
#define STATIC_HANDLE_INDICATOR_OFFSET 30
#define STATIC_HANDLE_VER_OFFSET 8
#define STATIC_HANDLE_VER_BIT_WIDTH 8
`)
	_, err := LayoutFrom(h)
	assert.Error(t, err)
}

func TestLoadHeaderMissing(t *testing.T) {
	_, err := LoadHeader(filepath.Join(t.TempDir(), "missing.h"))
	assert.Error(t, err)
}

func TestProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "an521.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
name = "an521"

[constants]
STATIC_HANDLE_NUM_LIMIT = 16
STATIC_HANDLE_IDX_BIT_WIDTH = 4
`), 0644))

	p, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "an521", p.Name)

	v, err := p.Int(MacroCapacity)
	require.NoError(t, err)
	assert.Equal(t, 16, v)

	_, err = p.Int(MacroVersionOffset)
	assert.Error(t, err)
}

func TestProfileUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("name = \"x\"\ncapacity = 3\n"), 0644))

	_, err := LoadProfile(path)
	assert.ErrorContains(t, err, "unknown keys")
}

func TestOverlay(t *testing.T) {
	profile := &Profile{Name: "p", Constants: map[string]int{MacroCapacity: 16, MacroIndexBitWidth: 4}}
	header := ParseHeader("spm_ipc.h", spmHeader)

	// Profile values win; the rest come from the header
	layout, err := LayoutFrom(Overlay{profile, header})
	require.NoError(t, err)
	assert.Equal(t, 16, layout.Capacity)
	assert.Equal(t, 4, layout.IndexBitWidth)
	assert.Equal(t, 30, layout.IndicatorOffset)

	_, err = Overlay{}.Int(MacroCapacity)
	assert.Error(t, err)
}
