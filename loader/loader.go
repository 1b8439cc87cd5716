// Package loader loads and validates the partition manifests referenced by
// manifest lists.
//
// For each reference, in order, the loader evaluates the conditional flag,
// resolves the manifest path, records any explicit partition ID and then
// loads and validates the manifest. Partitions without an explicit ID get
// one once every manifest is loaded. Any violation aborts the load; a
// manifest is only added to the result after it passed every check.
package loader

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360studio/partdb/manifest"
	"github.com/c360studio/partdb/pidalloc"
)

// Generated file locations, relative to the output directory and the
// partition's output_path.
const (
	HeaderDir       = "psa_manifest"
	AutoGenDir      = "auto_generated"
	IntermediatePfx = "intermedia_"
	LoadInfoPfx     = "load_info_"
)

var (
	enabledValues  = []string{"on", "true", "enabled"}
	disabledValues = []string{"off", "false", "disabled", ""}
)

// Options configures a Loader.
type Options struct {
	// OutDir is the root directory generated files are placed under.
	OutDir string
	// Env resolves variables in manifest and output paths. Nil uses the
	// process environment.
	Env *Environment
	// Cache, when set, serves manifest files across builds.
	Cache *DocumentCache
	// Logger for progress messages. Nil uses slog.Default().
	Logger *slog.Logger
}

// Loader owns the duplicate-detection state of a single build. A Loader
// must not be reused for a second build.
type Loader struct {
	outDir string
	env    *Environment
	cache  *DocumentCache
	logger *slog.Logger

	pids    *pidalloc.Allocator
	sids    map[string]string
	names   map[string]string
	pending []*manifest.Partition
}

// New creates a Loader with empty state.
func New(opts Options) *Loader {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	env := opts.Env
	if env == nil {
		env = ProcessEnvironment()
	}
	return &Loader{
		outDir: opts.OutDir,
		env:    env,
		cache:  opts.Cache,
		logger: logger,
		pids:   pidalloc.New(),
		sids:   make(map[string]string),
		names:  make(map[string]string),
	}
}

// Load loads every enabled manifest in refs, in order, and assigns the
// partition IDs that were not set explicitly.
func (l *Loader) Load(refs []*manifest.Ref) ([]*manifest.Partition, error) {
	var partitions []*manifest.Partition
	for _, ref := range refs {
		enabled, err := Enabled(ref)
		if err != nil {
			return nil, err
		}
		if !enabled {
			l.logger.Debug("Skipping disabled partition", slog.String("name", refName(ref)))
			continue
		}

		p, err := l.loadOne(ref)
		if err != nil {
			return nil, err
		}
		partitions = append(partitions, p)
	}

	if err := l.assignPIDs(); err != nil {
		return nil, err
	}

	for _, p := range partitions {
		l.logger.Debug("Loaded partition",
			slog.String("name", p.Name),
			slog.Int("pid", p.PID),
			slog.Bool("pid_auto", p.PIDAuto),
			slog.String("manifest", p.ManifestPath))
	}
	return partitions, nil
}

// Enabled evaluates a reference's conditional attribute. References
// without one are always enabled.
func Enabled(ref *manifest.Ref) (bool, error) {
	if ref.Conditional == nil {
		return true, nil
	}
	value := strings.ToLower(*ref.Conditional)
	for _, v := range disabledValues {
		if value == v {
			return false, nil
		}
	}
	for _, v := range enabledValues {
		if value == v {
			return true, nil
		}
	}
	return false, manifest.Errorf(manifest.ErrInvalidConditional, refName(ref),
		"invalid \"conditional\" attribute %q, set to one of %v or %v, case-insensitive",
		*ref.Conditional, enabledValues, disabledValues)
}

// ResolvePath expands variables in a manifest path and makes it absolute
// against the list's original directory.
func (l *Loader) ResolvePath(ref *manifest.Ref) string {
	p := l.env.Expand(ref.Manifest)
	if !filepath.IsAbs(p) {
		p = filepath.Join(ref.ListDir, p)
	}
	return toSlash(p)
}

func (l *Loader) loadOne(ref *manifest.Ref) (*manifest.Partition, error) {
	manifestPath := l.ResolvePath(ref)

	if ref.PID != nil {
		if err := l.pids.Reserve(refName(ref), *ref.PID); err != nil {
			return nil, err
		}
	}

	data, err := l.read(manifestPath)
	if err != nil {
		return nil, manifest.Errorf(manifest.ErrInvalidInput, refName(ref), "read manifest %s: %v", manifestPath, err)
	}
	doc, err := manifest.ParseDocument(data, manifestPath)
	if err != nil {
		return nil, err
	}

	if err := l.validate(doc, ref.PID); err != nil {
		return nil, err
	}

	basename := strings.TrimSuffix(filepath.Base(manifestPath), filepath.Ext(manifestPath))
	outputPath := ""
	if ref.OutputPath != nil {
		outputPath = l.env.Expand(*ref.OutputPath)
	}

	p := &manifest.Partition{
		Name:             doc.Name,
		ManifestPath:     manifestPath,
		Basename:         basename,
		HeaderFile:       toSlash(filepath.Join(l.outDir, outputPath, HeaderDir, basename+".h")),
		IntermediateFile: toSlash(filepath.Join(l.outDir, outputPath, AutoGenDir, IntermediatePfx+basename+".c")),
		LoadInfoFile:     toSlash(filepath.Join(l.outDir, outputPath, AutoGenDir, LoadInfoPfx+basename+".c")),
		Document:         doc,
		Ref:              ref,
	}
	if ref.PID != nil {
		p.PID = *ref.PID
	} else {
		l.pids.Queue(doc.Name)
		l.pending = append(l.pending, p)
	}
	return p, nil
}

// validate checks FF-M compliance of a manifest and fills in service
// defaults. pid is the explicit partition ID, nil when it is assigned
// later. State is only updated when the whole manifest is valid.
func (l *Loader) validate(doc *manifest.Document, pid *int) error {
	if owner, ok := l.names[doc.Name]; ok {
		return manifest.Errorf(manifest.ErrDuplicateName, doc.Name, "partition name already declared by %s", owner)
	}

	if (pid == nil || !manifest.IsReservedPID(*pid)) && len(doc.Services) == 0 && len(doc.IRQs) == 0 {
		return manifest.Errorf(manifest.ErrMissingCapability, doc.Name,
			"%s must declare at least either a secure service or an IRQ", doc.Name)
	}

	local := make(map[string]string, len(doc.Services))
	for _, svc := range doc.Services {
		if svc.VersionPolicy == "" {
			svc.VersionPolicy = manifest.PolicyStrict
		}

		key := svc.SIDKey()
		owner, dup := l.sids[key]
		if !dup {
			owner, dup = local[key]
		}
		if dup {
			return manifest.ServiceErrorf(manifest.ErrDuplicateServiceID, doc.Name, svc.Name,
				"service ID %s has duplications, first declared by %s", svc.SID, owner)
		}
		local[key] = serviceLabel(doc.Name, svc)
	}

	for key, owner := range local {
		l.sids[key] = owner
	}
	l.names[doc.Name] = doc.Name
	return nil
}

func (l *Loader) assignPIDs() error {
	if l.pids.Pending() == 0 {
		return nil
	}
	pids, err := l.pids.Assign()
	if err != nil {
		return err
	}
	for i, p := range l.pending {
		p.PID = pids[i]
		p.PIDAuto = true
	}
	l.pending = nil
	return nil
}

func (l *Loader) read(path string) ([]byte, error) {
	if l.cache != nil {
		return l.cache.Read(path)
	}
	return os.ReadFile(path)
}

func refName(ref *manifest.Ref) string {
	if ref.Name != "" {
		return ref.Name
	}
	return ref.Manifest
}

func serviceLabel(partition string, svc *manifest.Service) string {
	if svc.Name != "" {
		return partition + "/" + svc.Name
	}
	return partition
}

func toSlash(p string) string {
	return strings.ReplaceAll(filepath.ToSlash(p), "\\", "/")
}
