// Package manifest defines the secure partition manifest model: manifest
// lists, partition manifests, their services and IRQs, and the resolved
// partitions that make up a partition database.
package manifest

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ReservedPIDLimit is the first partition ID available to user partitions.
// IDs below it are owned by the SPM and platform partitions.
const ReservedPIDLimit = 256

// DefaultServiceVersion is applied to services that omit "version".
const DefaultServiceVersion = 1

// IsReservedPID reports whether pid lies in the platform-owned range.
func IsReservedPID(pid int) bool {
	return pid >= 0 && pid < ReservedPIDLimit
}

// ExecutionModel is how a partition's services are invoked.
type ExecutionModel string

const (
	// ModelIPC runs the partition in its own thread with message passing.
	ModelIPC ExecutionModel = "IPC"
	// ModelSFN calls partition services as secure functions.
	ModelSFN ExecutionModel = "SFN"
)

// VersionPolicy is how a service version requested by a client is matched.
type VersionPolicy string

const (
	// PolicyStrict requires an exact version match.
	PolicyStrict VersionPolicy = "STRICT"
	// PolicyRelaxed accepts any version up to the service version.
	PolicyRelaxed VersionPolicy = "RELAXED"
)

// Handling is the IRQ handling style.
type Handling string

const (
	// HandlingFLIH handles the interrupt in the first-level handler.
	HandlingFLIH Handling = "FLIH"
	// HandlingSLIH signals the partition and handles it in thread mode.
	HandlingSLIH Handling = "SLIH"
)

// ListEntry is one manifest list paired with the directory its relative
// manifest paths resolve against.
type ListEntry struct {
	Path        string
	OriginalDir string
}

// Ref is a manifest declared inside a manifest list.
type Ref struct {
	// Name is the partition name as written in the list.
	Name string
	// Manifest is the manifest path expression, possibly with $VARS.
	Manifest string
	// Conditional is the raw enable flag; nil means always enabled.
	Conditional *string
	// PID is the explicitly assigned partition ID, if any.
	PID *int
	// OutputPath is the output directory expression, if any.
	OutputPath *string
	// ListDir is the directory relative manifest paths resolve against.
	ListDir string
	// Attrs holds every attribute of the list entry for the renderer.
	Attrs map[string]any
}

// Version is a PSA Firmware Framework version such as 1.0 or 1.1.
type Version struct {
	Major int
	Minor int
}

// Version11 is the framework version that introduced stateless services
// and the SFN model.
var Version11 = Version{Major: 1, Minor: 1}

// ParseVersion parses a decimal framework version literal.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	major, minor, found := strings.Cut(s, ".")
	maj, err := strconv.Atoi(major)
	if err != nil || maj < 0 {
		return Version{}, fmt.Errorf("invalid framework version %q", s)
	}
	v := Version{Major: maj}
	if found {
		// Decimal literal: 1.10 is 1.1.
		minor = strings.TrimRight(minor, "0")
		if minor == "" {
			return v, nil
		}
		m, err := strconv.Atoi(minor)
		if err != nil || m < 0 || minor[0] == '0' {
			return Version{}, fmt.Errorf("invalid framework version %q", s)
		}
		v.Minor = m
	}
	return v, nil
}

// AtLeast reports whether v is the same as or newer than other.
func (v Version) AtLeast(other Version) bool {
	if v.Major != other.Major {
		return v.Major > other.Major
	}
	return v.Minor >= other.Minor
}

// String renders the version as a decimal literal.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// MarshalYAML renders the version as the decimal manifests write.
func (v Version) MarshalYAML() (interface{}, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: v.String()}, nil
}

// MarshalText renders the version for JSON encoders.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Service is a secure service declared by a partition.
type Service struct {
	Name string `yaml:"name" json:"name"`
	// SID is the service ID exactly as written in the manifest.
	SID             string         `yaml:"sid" json:"sid"`
	Version         int            `yaml:"version" json:"version"`
	VersionPolicy   VersionPolicy  `yaml:"version_policy" json:"version_policy"`
	ConnectionBased *bool          `yaml:"connection_based,omitempty" json:"connection_based,omitempty"`
	StatelessHandle Handle         `yaml:"stateless_handle,omitempty" json:"stateless_handle,omitempty"`
	Extra           map[string]any `yaml:",inline" json:"extra,omitempty"`
}

// SIDKey returns the value used to detect duplicate service IDs. Integer
// literals compare by value so 0x40 and 64 collide.
func (s *Service) SIDKey() string {
	if n, err := strconv.ParseUint(s.SID, 0, 64); err == nil {
		return fmt.Sprintf("0x%08X", n)
	}
	return s.SID
}

// IsConnectionBased reports whether the service uses connections. Services
// that omit the attribute are connection based.
func (s *Service) IsConnectionBased() bool {
	return s.ConnectionBased == nil || *s.ConnectionBased
}

// IRQ is an interrupt source owned by a partition.
type IRQ struct {
	Name     string         `yaml:"name,omitempty" json:"name,omitempty"`
	Source   string         `yaml:"source,omitempty" json:"source,omitempty"`
	Handling Handling       `yaml:"handling" json:"handling"`
	Extra    map[string]any `yaml:",inline" json:"extra,omitempty"`
}

// Document is a parsed partition manifest.
type Document struct {
	Name             string         `yaml:"name" json:"name"`
	Type             string         `yaml:"type,omitempty" json:"type,omitempty"`
	FrameworkVersion Version        `yaml:"psa_framework_version" json:"psa_framework_version"`
	Model            ExecutionModel `yaml:"model" json:"model"`
	Services         []*Service     `yaml:"services,omitempty" json:"services,omitempty"`
	IRQs             []*IRQ         `yaml:"irqs,omitempty" json:"irqs,omitempty"`
	Extra            map[string]any `yaml:",inline" json:"extra,omitempty"`
}

// Partition is a loaded and validated manifest with its resolved ID and
// generated file locations.
type Partition struct {
	Name string
	PID  int
	// PIDAuto is set when the PID was assigned rather than declared.
	PIDAuto bool
	// ManifestPath is the resolved manifest file.
	ManifestPath string
	// Basename is the manifest file name without extension.
	Basename         string
	HeaderFile       string
	IntermediateFile string
	LoadInfoFile     string
	Document         *Document
	Ref              *Ref
}

// EffectiveModel is the execution model the SPM will use. Only framework
// 1.1 and later partitions can run as SFN.
func (p *Partition) EffectiveModel() ExecutionModel {
	if p.Document.FrameworkVersion.AtLeast(Version11) && p.Document.Model == ModelSFN {
		return ModelSFN
	}
	return ModelIPC
}

// Reserved reports whether the partition was declared with a PID in the
// platform-owned range. Auto-assigned PIDs are never reserved.
func (p *Partition) Reserved() bool {
	return !p.PIDAuto && IsReservedPID(p.PID)
}
