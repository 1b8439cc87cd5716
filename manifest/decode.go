package manifest

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ListKey is the top-level key of a manifest list document.
const ListKey = "manifest_list"

type rawRef struct {
	Name        string    `yaml:"name"`
	Manifest    string    `yaml:"manifest"`
	Conditional yaml.Node `yaml:"conditional"`
	PID         *int      `yaml:"pid"`
	OutputPath  *string   `yaml:"output_path"`
}

type rawService struct {
	Name            string         `yaml:"name"`
	SID             string         `yaml:"sid"`
	Version         *int           `yaml:"version"`
	VersionPolicy   string         `yaml:"version_policy"`
	ConnectionBased *bool          `yaml:"connection_based"`
	StatelessHandle yaml.Node      `yaml:"stateless_handle"`
	Extra           map[string]any `yaml:",inline"`
}

type rawIRQ struct {
	Name     string         `yaml:"name"`
	Source   string         `yaml:"source"`
	Handling string         `yaml:"handling"`
	Extra    map[string]any `yaml:",inline"`
}

type rawDocument struct {
	Name             string         `yaml:"name"`
	Type             string         `yaml:"type"`
	FrameworkVersion yaml.Node      `yaml:"psa_framework_version"`
	Model            string         `yaml:"model"`
	Services         []rawService   `yaml:"services"`
	IRQs             []rawIRQ       `yaml:"irqs"`
	Extra            map[string]any `yaml:",inline"`
}

// ParseList decodes a manifest list document. Every returned Ref has
// ListDir set to listDir.
func ParseList(data []byte, listDir string) ([]*Ref, error) {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, Errorf(ErrInvalidInput, "", "parse manifest list: %v", err)
	}

	list, ok := doc[ListKey]
	if !ok {
		return nil, Errorf(ErrMissingField, "", "manifest list has no %q key", ListKey)
	}
	if list.Kind != yaml.SequenceNode {
		if list.ShortTag() == "!!null" {
			return nil, nil
		}
		return nil, Errorf(ErrInvalidField, "", "%q must be a sequence", ListKey)
	}

	refs := make([]*Ref, 0, len(list.Content))
	for i, item := range list.Content {
		ref, err := decodeRef(item, listDir)
		if err != nil {
			var merr *Error
			if errors.As(err, &merr) {
				return nil, err
			}
			return nil, Errorf(ErrInvalidField, "", "manifest list entry %d: %v", i, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func decodeRef(node *yaml.Node, listDir string) (*Ref, error) {
	var raw rawRef
	if err := node.Decode(&raw); err != nil {
		return nil, err
	}
	var attrs map[string]any
	if err := node.Decode(&attrs); err != nil {
		return nil, err
	}

	if raw.Manifest == "" {
		return nil, Errorf(ErrMissingField, raw.Name, "list entry has no \"manifest\" attribute")
	}

	ref := &Ref{
		Name:       raw.Name,
		Manifest:   raw.Manifest,
		PID:        raw.PID,
		OutputPath: raw.OutputPath,
		ListDir:    listDir,
		Attrs:      attrs,
	}
	if raw.Conditional.Kind != 0 {
		if raw.Conditional.Kind != yaml.ScalarNode {
			return nil, Errorf(ErrInvalidConditional, raw.Name, "conditional must be a scalar")
		}
		if raw.Conditional.ShortTag() == "!!null" {
			return nil, Errorf(ErrInvalidConditional, raw.Name, "conditional must not be null")
		}
		value := raw.Conditional.Value
		ref.Conditional = &value
	}
	return ref, nil
}

// ParseDocument decodes a partition manifest and checks its attribute
// types. source names the manifest in error messages. An absent service
// version becomes DefaultServiceVersion; the version policy default is
// left for the loader to apply.
func ParseDocument(data []byte, source string) (*Document, error) {
	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, Errorf(ErrInvalidField, "", "parse manifest %s: %v", source, err)
	}

	if raw.Name == "" {
		return nil, Errorf(ErrMissingField, "", "manifest %s has no \"name\" attribute", source)
	}

	doc := &Document{
		Name:  raw.Name,
		Type:  raw.Type,
		Extra: raw.Extra,
	}

	if raw.FrameworkVersion.Kind == 0 || raw.FrameworkVersion.ShortTag() == "!!null" {
		return nil, Errorf(ErrMissingField, raw.Name, "\"psa_framework_version\" is mandatory")
	}
	v, err := ParseVersion(raw.FrameworkVersion.Value)
	if err != nil {
		return nil, Errorf(ErrInvalidField, raw.Name, "%v", err)
	}
	doc.FrameworkVersion = v

	switch ExecutionModel(strings.TrimSpace(raw.Model)) {
	case "", ModelIPC:
		doc.Model = ModelIPC
	case ModelSFN:
		doc.Model = ModelSFN
	default:
		return nil, Errorf(ErrInvalidField, raw.Name, "unknown model %q", raw.Model)
	}

	for _, rs := range raw.Services {
		svc, err := decodeService(raw.Name, rs)
		if err != nil {
			return nil, err
		}
		doc.Services = append(doc.Services, svc)
	}

	for _, ri := range raw.IRQs {
		irq := &IRQ{Name: ri.Name, Source: ri.Source, Extra: ri.Extra}
		switch Handling(ri.Handling) {
		case "", HandlingSLIH:
			irq.Handling = HandlingSLIH
		case HandlingFLIH:
			irq.Handling = HandlingFLIH
		default:
			return nil, Errorf(ErrInvalidField, raw.Name, "irq %s: unknown handling %q", irqLabel(ri), ri.Handling)
		}
		doc.IRQs = append(doc.IRQs, irq)
	}

	return doc, nil
}

func decodeService(partition string, rs rawService) (*Service, error) {
	if rs.SID == "" {
		return nil, ServiceErrorf(ErrMissingField, partition, rs.Name, "\"sid\" is mandatory")
	}

	svc := &Service{
		Name:            rs.Name,
		SID:             rs.SID,
		ConnectionBased: rs.ConnectionBased,
		StatelessHandle: decodeHandle(&rs.StatelessHandle),
		Extra:           rs.Extra,
	}
	svc.Version = DefaultServiceVersion
	if rs.Version != nil {
		if *rs.Version < 0 {
			return nil, ServiceErrorf(ErrInvalidField, partition, rs.Name, "version %d must not be negative", *rs.Version)
		}
		svc.Version = *rs.Version
	}
	switch VersionPolicy(rs.VersionPolicy) {
	case "":
	case PolicyStrict, PolicyRelaxed:
		svc.VersionPolicy = VersionPolicy(rs.VersionPolicy)
	default:
		return nil, ServiceErrorf(ErrInvalidField, partition, rs.Name, "unknown version_policy %q", rs.VersionPolicy)
	}
	return svc, nil
}

// decodeHandle reads a stateless_handle attribute. An explicit null is
// an invalid setting, unlike an absent attribute.
func decodeHandle(node *yaml.Node) Handle {
	var h Handle
	switch {
	case node.Kind == 0:
		return h
	case node.ShortTag() == "!!null":
		return Handle{Kind: HandleInvalid, Raw: "null"}
	}
	_ = h.UnmarshalYAML(node)
	return h
}

func irqLabel(ri rawIRQ) string {
	if ri.Name != "" {
		return ri.Name
	}
	if ri.Source != "" {
		return ri.Source
	}
	return fmt.Sprintf("%v", ri.Extra)
}
