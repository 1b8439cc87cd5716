// Package platform reads the platform constants the build depends on: the
// stateless handle layout and slot capacity.
//
// The constants normally live as C macros in the SPM header; a TOML
// platform profile can provide them instead.
package platform

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/c360studio/partdb/stateless"
)

// DefaultHeader is the SPM header defining the stateless handle macros,
// relative to the firmware source root.
const DefaultHeader = "secure_fw/spm/cmsis_psa/spm_ipc.h"

// Macro names of the stateless handle layout.
const (
	MacroCapacity        = "STATIC_HANDLE_NUM_LIMIT"
	MacroIndexBitWidth   = "STATIC_HANDLE_IDX_BIT_WIDTH"
	MacroIndicatorOffset = "STATIC_HANDLE_INDICATOR_OFFSET"
	MacroVersionOffset   = "STATIC_HANDLE_VER_OFFSET"
	MacroVersionBitWidth = "STATIC_HANDLE_VER_BIT_WIDTH"
)

// commentRe matches C block and line comments.
var commentRe = regexp.MustCompile(`(?s)/\*.*?\*/|//[^\n]*`)

// Lookup resolves a platform constant by name.
type Lookup interface {
	Int(name string) (int, error)
}

// Header holds the text of a C header and resolves integer macros from it.
type Header struct {
	path string
	text string
}

// LoadHeader reads a C header file.
func LoadHeader(path string) (*Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read platform header: %w", err)
	}
	return ParseHeader(path, string(data)), nil
}

// ParseHeader wraps header text with comments removed. name is used in
// error messages.
func ParseHeader(name, text string) *Header {
	return &Header{path: name, text: commentRe.ReplaceAllString(text, " ")}
}

// Macro returns the definition of a macro with surrounding parentheses
// stripped. The macro must be defined exactly once; a definition may
// continue on the next line after a backslash.
func (h *Header) Macro(name string) (string, error) {
	re, err := regexp.Compile(`#define\s+` + regexp.QuoteMeta(name) + `[\\\s]+.*`)
	if err != nil {
		return "", err
	}
	matches := re.FindAllString(h.text, -1)
	if len(matches) != 1 {
		return "", fmt.Errorf("%s: %s not defined or has multiple definitions", h.path, name)
	}
	fields := strings.Fields(matches[0])
	if len(fields) < 3 {
		return "", fmt.Errorf("%s: %s has no value", h.path, name)
	}
	return strings.Trim(fields[len(fields)-1], "()"), nil
}

// Int returns the integer value of a macro. Unsigned and long suffixes are
// accepted.
func (h *Header) Int(name string) (int, error) {
	def, err := h.Macro(name)
	if err != nil {
		return 0, err
	}
	literal := strings.TrimRight(def, "uUlL")
	n, err := strconv.ParseInt(literal, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %s = %q is not an integer", h.path, name, def)
	}
	return int(n), nil
}

// LayoutFrom reads the stateless handle layout from lookup.
func LayoutFrom(lookup Lookup) (stateless.Layout, error) {
	var l stateless.Layout
	fields := []struct {
		name string
		dst  *int
	}{
		{MacroCapacity, &l.Capacity},
		{MacroIndexBitWidth, &l.IndexBitWidth},
		{MacroIndicatorOffset, &l.IndicatorOffset},
		{MacroVersionOffset, &l.VersionOffset},
		{MacroVersionBitWidth, &l.VersionBitWidth},
	}
	for _, f := range fields {
		v, err := lookup.Int(f.name)
		if err != nil {
			return stateless.Layout{}, err
		}
		*f.dst = v
	}
	if err := l.Validate(); err != nil {
		return stateless.Layout{}, err
	}
	return l, nil
}
