// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package plugin

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/samber/oops"
)

// ManifestFiles are the file names looked up in each plugin directory, in
// order of preference.
var ManifestFiles = []string{"plugin.yaml", "plugin.yml", "plugin.json"}

// Rejection is a candidate directory whose manifest could not be registered.
type Rejection struct {
	Path string
	Err  error
}

// DiscoveryResult reports the outcome of one discovery pass.
type DiscoveryResult struct {
	Discovered []PluginInfo
	Rejected   []Rejection
}

// Discover scans the immediate subdirectories of root for plugin manifests
// and registers each valid one as DISCOVERED.
func (r *Registry) Discover(ctx context.Context, root string) (DiscoveryResult, error) {
	return r.DiscoverFS(ctx, os.DirFS(root), root)
}

// DiscoverFS is Discover over fsys. base prefixes the paths recorded for
// each plugin. Invalid candidates are reported in the result and do not
// stop discovery; the error is non-nil only when fsys itself cannot be
// listed.
func (r *Registry) DiscoverFS(ctx context.Context, fsys fs.FS, base string) (DiscoveryResult, error) {
	var result DiscoveryResult

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return result, oops.In("plugin").With("root", base).Wrapf(err, "list plugin directory")
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, oops.In("plugin").With("root", base).Wrap(err)
		}

		dir := filepath.Join(base, entry.Name())
		m, err := readManifest(fsys, entry.Name())
		if errors.Is(err, fs.ErrNotExist) {
			r.logger.Debug("skipping directory without manifest", "path", dir)
			continue
		}
		if err == nil {
			err = r.Register(ctx, m, dir)
		}
		if err != nil {
			r.logger.Warn("rejected plugin candidate", "path", dir, "error", err)
			result.Rejected = append(result.Rejected, Rejection{Path: dir, Err: err})
			continue
		}

		info, _ := r.Get(m.ID)
		result.Discovered = append(result.Discovered, info)
	}
	return result, nil
}

// readManifest loads, schema checks and decodes the manifest in dir.
// fs.ErrNotExist means dir holds no manifest.
func readManifest(fsys fs.FS, dir string) (*Manifest, error) {
	for _, name := range ManifestFiles {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, oops.In("plugin").With("file", name).Wrapf(err, "read manifest")
		}
		return LoadManifest(data)
	}
	return nil, fs.ErrNotExist
}

// LoadManifest schema checks and decodes manifest data. The manifest is
// not yet validated against the registry. When the schema check fails the
// returned ValidationError also carries every Manifest.Validate failure
// that can still be determined, so one pass reports every bad field.
func LoadManifest(data []byte) (*Manifest, error) {
	doc, fields, err := schemaFields(data)
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(data)
	if len(fields) == 0 {
		return m, err
	}
	if err == nil {
		var invalid *ValidationError
		if errors.As(m.Validate(nil), &invalid) {
			fields = mergeFields(fields, invalid.Fields)
		}
	}
	return nil, errValidation(docID(doc), fields)
}
