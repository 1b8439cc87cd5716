package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/c360studio/partdb/spmconfig"
)

// Format specifies the output serialization format.
type Format string

const (
	// FormatYAML produces the full database as YAML.
	FormatYAML Format = "yaml"

	// FormatJSON produces the full database as JSON.
	FormatJSON Format = "json"

	// FormatDefines produces the configuration flags as C #define lines.
	FormatDefines Format = "defines"
)

// FormatInfo provides metadata about an export format.
type FormatInfo struct {
	// Name is the format identifier.
	Name Format

	// MIMEType is the standard MIME type.
	MIMEType string

	// Extension is the file extension (with dot).
	Extension string

	// Description describes the format.
	Description string
}

// FormatRegistry contains metadata for all supported formats.
var FormatRegistry = map[Format]FormatInfo{
	FormatYAML: {
		Name:        FormatYAML,
		MIMEType:    "application/yaml",
		Extension:   ".yaml",
		Description: "YAML - partitions, configuration and stateless services",
	},
	FormatJSON: {
		Name:        FormatJSON,
		MIMEType:    "application/json",
		Extension:   ".json",
		Description: "JSON - partitions, configuration and stateless services",
	},
	FormatDefines: {
		Name:        FormatDefines,
		MIMEType:    "text/x-c",
		Extension:   ".h",
		Description: "C preprocessor definitions of the SPM configuration",
	},
}

// GetFormatInfo returns metadata for a format.
func GetFormatInfo(format Format) (FormatInfo, bool) {
	info, ok := FormatRegistry[format]
	return info, ok
}

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := FormatRegistry[f]; !ok {
		return "", fmt.Errorf("unsupported format %q (supported: %s)", s, strings.Join(FormatNames(), ", "))
	}
	return f, nil
}

// FormatNames returns the supported format names, sorted.
func FormatNames() []string {
	names := make([]string, 0, len(FormatRegistry))
	for f := range FormatRegistry {
		names = append(names, string(f))
	}
	sort.Strings(names)
	return names
}

// DefinesWriter writes configuration flags as C preprocessor definitions.
type DefinesWriter struct {
	sb strings.Builder
}

// NewDefinesWriter creates a new defines writer.
func NewDefinesWriter() *DefinesWriter {
	return &DefinesWriter{}
}

// WriteHeader writes the leading comment.
func (w *DefinesWriter) WriteHeader(comment string) {
	w.sb.WriteString(fmt.Sprintf("/* %s */\n\n", comment))
}

// WriteFlags writes one #define per flag, in set order.
func (w *DefinesWriter) WriteFlags(flags spmconfig.FlagSet) {
	width := 0
	for _, f := range flags {
		if len(f.Name) > width {
			width = len(f.Name)
		}
	}
	for _, f := range flags {
		w.sb.WriteString(fmt.Sprintf("#define %-*s %s\n", width, f.Name, f.Value))
	}
}

// String returns the accumulated output.
func (w *DefinesWriter) String() string {
	return w.sb.String()
}
