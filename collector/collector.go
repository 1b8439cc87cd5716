// Package collector flattens manifest lists into an ordered sequence of
// manifest references.
//
// Manifest lists are often copied into the build tree by an earlier build
// step, so each list is passed together with its original directory and
// relative manifest paths inside it resolve against that directory.
package collector

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/c360studio/partdb/manifest"
)

// ParsePairs turns alternating list file / original directory arguments
// into list entries, checking that each list is a regular file and each
// original directory is a directory.
func ParsePairs(args []string) ([]manifest.ListEntry, error) {
	if len(args)%2 != 0 {
		return nil, manifest.Errorf(manifest.ErrInvalidInput, "",
			"manifest lists must be given as list and original directory pairs, got %d items", len(args))
	}

	entries := make([]manifest.ListEntry, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		entry := manifest.ListEntry{Path: args[i], OriginalDir: args[i+1]}
		if err := checkEntry(i, entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func checkEntry(i int, entry manifest.ListEntry) error {
	info, err := os.Stat(entry.Path)
	if err != nil || !info.Mode().IsRegular() {
		return manifest.Errorf(manifest.ErrInvalidInput, "", "manifest list item [%d] must be a file: %s", i, entry.Path)
	}
	info, err = os.Stat(entry.OriginalDir)
	if err != nil || !info.IsDir() {
		return manifest.Errorf(manifest.ErrInvalidInput, "", "manifest list item [%d] must be a directory: %s", i+1, entry.OriginalDir)
	}
	return nil
}

// Collector reads manifest lists.
type Collector struct {
	logger *slog.Logger
}

// New creates a Collector. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{logger: logger}
}

// Collect reads every list in order and returns their manifest references,
// list order and entry order preserved.
func (c *Collector) Collect(entries []manifest.ListEntry) ([]*manifest.Ref, error) {
	var refs []*manifest.Ref
	for i, entry := range entries {
		if err := checkEntry(2*i, entry); err != nil {
			return nil, err
		}
		listRefs, err := ReadList(entry)
		if err != nil {
			return nil, err
		}
		c.logger.Debug("Read manifest list",
			slog.String("path", entry.Path),
			slog.String("original_dir", entry.OriginalDir),
			slog.Int("manifests", len(listRefs)))
		refs = append(refs, listRefs...)
	}
	return refs, nil
}

// ReadList decodes a single manifest list.
func ReadList(entry manifest.ListEntry) ([]*manifest.Ref, error) {
	data, err := os.ReadFile(entry.Path)
	if err != nil {
		return nil, manifest.Errorf(manifest.ErrInvalidInput, "", "read manifest list %s: %v", entry.Path, err)
	}
	refs, err := manifest.ParseList(data, entry.OriginalDir)
	if err != nil {
		return nil, fmt.Errorf("manifest list %s: %w", entry.Path, err)
	}
	return refs, nil
}
