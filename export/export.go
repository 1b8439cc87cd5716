// Package export serializes a partition database for the file generator.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/partdb/database"
	"github.com/c360studio/partdb/manifest"
	"github.com/c360studio/partdb/spmconfig"
)

// DoNotEditWarning heads every exported file.
const DoNotEditWarning = "WARNING: This is an auto-generated file. Do not edit!"

// Document is the exported form of a database. Field names follow the
// template context the file generator expects.
type Document struct {
	Partitions        []PartitionEntry     `yaml:"partitions" json:"partitions"`
	ConfigImpl        spmconfig.FlagSet    `yaml:"config_impl" json:"config_impl"`
	Statistics        spmconfig.Statistics `yaml:"statistics" json:"statistics"`
	StatelessServices []*StatelessEntry    `yaml:"stateless_services" json:"stateless_services"`
	Utilities         map[string]string    `yaml:"utilities" json:"utilities"`
}

// PartitionEntry is one partition with its generated file locations.
type PartitionEntry struct {
	Manifest            *manifest.Document `yaml:"manifest" json:"manifest"`
	Attr                map[string]any     `yaml:"attr" json:"attr"`
	PID                 int                `yaml:"pid" json:"pid"`
	ManifestOutBasename string             `yaml:"manifest_out_basename" json:"manifest_out_basename"`
	HeaderFile          string             `yaml:"header_file" json:"header_file"`
	IntermediaFile      string             `yaml:"intermedia_file" json:"intermedia_file"`
	LoadInfoFile        string             `yaml:"loadinfo_file" json:"loadinfo_file"`
}

// StatelessEntry is an occupied stateless service slot. Unused slots are
// exported as null.
type StatelessEntry struct {
	Partition            string `yaml:"partition" json:"partition"`
	Name                 string `yaml:"name" json:"name"`
	SID                  string `yaml:"sid" json:"sid"`
	Version              int    `yaml:"version" json:"version"`
	StatelessHandleValue string `yaml:"stateless_handle_value" json:"stateless_handle_value"`
	StatelessHandleIndex int    `yaml:"stateless_handle_index" json:"stateless_handle_index"`
}

// NewDocument converts a database to its exported form.
func NewDocument(db *database.Database) *Document {
	doc := &Document{
		Partitions:        make([]PartitionEntry, 0, len(db.Partitions)),
		ConfigImpl:        db.Config,
		Statistics:        db.Statistics,
		StatelessServices: make([]*StatelessEntry, 0, len(db.Stateless.Slots)),
		Utilities:         map[string]string{"donotedit_warning": DoNotEditWarning},
	}

	for _, p := range db.Partitions {
		attr := make(map[string]any, len(p.Ref.Attrs)+1)
		for k, v := range p.Ref.Attrs {
			attr[k] = v
		}
		attr["pid"] = p.PID

		doc.Partitions = append(doc.Partitions, PartitionEntry{
			Manifest:            p.Document,
			Attr:                attr,
			PID:                 p.PID,
			ManifestOutBasename: p.Basename,
			HeaderFile:          p.HeaderFile,
			IntermediaFile:      p.IntermediateFile,
			LoadInfoFile:        p.LoadInfoFile,
		})
	}

	for _, slot := range db.Stateless.Slots {
		if slot.Empty() {
			doc.StatelessServices = append(doc.StatelessServices, nil)
			continue
		}
		doc.StatelessServices = append(doc.StatelessServices, &StatelessEntry{
			Partition:            slot.Partition,
			Name:                 slot.Service.Name,
			SID:                  slot.Service.SID,
			Version:              slot.Service.Version,
			StatelessHandleValue: slot.HandleHex(),
			StatelessHandleIndex: slot.Index,
		})
	}
	return doc
}

// Exporter serializes a database.
type Exporter struct {
	db *database.Database
}

// NewExporter creates an exporter for db.
func NewExporter(db *database.Database) *Exporter {
	return &Exporter{db: db}
}

// Export serializes the database to the specified format.
func (e *Exporter) Export(format Format) (string, error) {
	switch format {
	case FormatYAML:
		data, err := yaml.Marshal(NewDocument(e.db))
		if err != nil {
			return "", fmt.Errorf("marshal yaml: %w", err)
		}
		return "# " + DoNotEditWarning + "\n" + string(data), nil
	case FormatJSON:
		data, err := json.MarshalIndent(NewDocument(e.db), "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal json: %w", err)
		}
		return string(data) + "\n", nil
	case FormatDefines:
		w := NewDefinesWriter()
		w.WriteHeader(DoNotEditWarning)
		w.WriteFlags(e.db.Config)
		return w.String(), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// WriteFile exports the database to path, creating parent directories.
func (e *Exporter) WriteFile(path string, format Format) error {
	out, err := e.Export(format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(out), 0644); err != nil {
		return fmt.Errorf("write export file: %w", err)
	}
	return nil
}
