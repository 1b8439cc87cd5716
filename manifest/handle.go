package manifest

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// HandleKind is the form a service's stateless_handle attribute takes.
type HandleKind int

const (
	// HandleUnset means the attribute is absent; the handle is allocated.
	HandleUnset HandleKind = iota
	// HandleAuto means the attribute is "auto".
	HandleAuto
	// HandleFixed means the attribute pins a 1-based handle.
	HandleFixed
	// HandleInvalid means the attribute has an unsupported form.
	HandleInvalid
)

// Handle is a service's requested stateless handle.
type Handle struct {
	Kind  HandleKind
	Value int
	// Raw is the attribute text as written, for error messages.
	Raw string
}

// FixedHandle returns a Handle pinned to value.
func FixedHandle(value int) Handle {
	return Handle{Kind: HandleFixed, Value: value, Raw: strconv.Itoa(value)}
}

// AutoHandle returns a Handle requesting automatic allocation.
func AutoHandle() Handle {
	return Handle{Kind: HandleAuto, Raw: "auto"}
}

// IsAuto reports whether the handle is allocated by the framework.
func (h Handle) IsAuto() bool {
	return h.Kind == HandleUnset || h.Kind == HandleAuto
}

// IsZero lets encoders omit an unset handle.
func (h Handle) IsZero() bool {
	return h.Kind == HandleUnset
}

// String renders the handle as written in a manifest.
func (h Handle) String() string {
	switch h.Kind {
	case HandleUnset:
		return ""
	case HandleAuto:
		return "auto"
	case HandleFixed:
		return strconv.Itoa(h.Value)
	default:
		return h.Raw
	}
}

// UnmarshalYAML implements yaml.Unmarshaler for Handle. Unsupported values
// decode to HandleInvalid so the allocator can report them.
func (h *Handle) UnmarshalYAML(value *yaml.Node) error {
	*h = Handle{Kind: HandleInvalid, Raw: value.Value}
	if value.Kind != yaml.ScalarNode {
		h.Raw = fmt.Sprintf("<%s>", nodeKindName(value.Kind))
		return nil
	}

	switch value.ShortTag() {
	case "!!int":
		var n int
		if err := value.Decode(&n); err != nil {
			return nil
		}
		h.Kind = HandleFixed
		h.Value = n
	case "!!str":
		if value.Value == "auto" {
			h.Kind = HandleAuto
		}
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler for Handle.
func (h Handle) MarshalYAML() (interface{}, error) {
	if h.Kind == HandleFixed {
		return h.Value, nil
	}
	return h.String(), nil
}

// MarshalText implements encoding.TextMarshaler for Handle.
func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func nodeKindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	default:
		return "scalar"
	}
}
