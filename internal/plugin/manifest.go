// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

// Package plugin implements the Alexandria plugin registry: manifest
// validation, dependency resolution, the lifecycle state machine and the
// registry that drives plugins through it.
package plugin

import (
	"bytes"
	"fmt"
	"maps"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/PolycarpusTack/Alexandria-sub004/internal/plugin/capability"
)

// Runtime identifies how a plugin's main entry is loaded.
type Runtime string

// Supported runtimes.
const (
	RuntimeBuiltin Runtime = "builtin"
	RuntimeLua     Runtime = "lua"
	RuntimeBinary  Runtime = "binary"
)

// builtinPrefix marks a main entry naming a constructor compiled into the
// host.
const builtinPrefix = "builtin:"

// Manifest is the decoded plugin.yaml of one plugin. A manifest is not
// modified after discovery; update replaces it wholesale.
type Manifest struct {
	ID                 string              `yaml:"id" json:"id" jsonschema:"minLength=1,maxLength=128,pattern=^[A-Za-z0-9][A-Za-z0-9._-]*$"`
	Name               string              `yaml:"name" json:"name" jsonschema:"minLength=1"`
	Version            string              `yaml:"version" json:"version" jsonschema:"minLength=1"`
	Main               string              `yaml:"main" json:"main" jsonschema:"minLength=1"`
	Author             string              `yaml:"author,omitempty" json:"author,omitempty"`
	MinPlatformVersion string              `yaml:"minPlatformVersion,omitempty" json:"minPlatformVersion,omitempty"`
	Permissions        []string            `yaml:"permissions,omitempty" json:"permissions,omitempty"`
	Capabilities       []string            `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Dependencies       map[string]string   `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	EventSubscriptions []EventSubscription `yaml:"eventSubscriptions,omitempty" json:"eventSubscriptions,omitempty"`
	APIEndpoints       []APIEndpoint       `yaml:"apiEndpoints,omitempty" json:"apiEndpoints,omitempty"`
	Runtime            Runtime             `yaml:"runtime,omitempty" json:"runtime,omitempty" jsonschema:"enum=builtin,enum=lua,enum=binary"`
}

// EventSubscription binds a topic to a named handler of the plugin.
type EventSubscription struct {
	Topic   string `yaml:"topic" json:"topic" jsonschema:"minLength=1"`
	Handler string `yaml:"handler" json:"handler" jsonschema:"minLength=1"`
}

// APIEndpoint binds an HTTP route to a named handler of the plugin.
type APIEndpoint struct {
	Path    string `yaml:"path" json:"path" jsonschema:"minLength=1"`
	Method  string `yaml:"method" json:"method" jsonschema:"minLength=1"`
	Handler string `yaml:"handler" json:"handler" jsonschema:"minLength=1"`
}

// maxIDLength is the maximum allowed length for plugin ids.
const maxIDLength = 128

// idPattern validates plugin ids: an alphanumeric first character followed
// by alphanumerics, dots, underscores or hyphens.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

var allowedMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
	http.MethodDelete, http.MethodHead, http.MethodOptions,
}

// ParseManifest decodes a manifest. Unknown keys are rejected. The result
// is not validated; call Validate.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, oops.In("plugin").Code(CodeValidationFailed).Errorf("manifest data is empty")
	}

	// JSON manifests decode through the same path: JSON is valid YAML.
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, oops.In("plugin").Code(CodeValidationFailed).Wrapf(err, "invalid manifest")
	}
	return &m, nil
}

// Validate checks every manifest constraint and returns a ValidationError
// listing all failures. A non-nil platform enables the minPlatformVersion
// gate.
func (m *Manifest) Validate(platform *semver.Version) error {
	var fields []FieldError
	fail := func(field, format string, args ...any) {
		fields = append(fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch {
	case m.ID == "":
		fail("id", "is required")
	case len(m.ID) > maxIDLength:
		fail("id", "must be %d characters or less, got %d", maxIDLength, len(m.ID))
	case !idPattern.MatchString(m.ID):
		fail("id", "%q must start with a letter or digit and contain only letters, digits, '.', '_' or '-'", m.ID)
	}

	if strings.TrimSpace(m.Name) == "" {
		fail("name", "is required")
	}

	if m.Version == "" {
		fail("version", "is required")
	} else if _, err := semver.StrictNewVersion(m.Version); err != nil {
		fail("version", "%q is not a semantic version: %v", m.Version, err)
	}

	if strings.TrimSpace(m.Main) == "" {
		fail("main", "is required")
	}

	if m.Runtime != "" && !slices.Contains([]Runtime{RuntimeBuiltin, RuntimeLua, RuntimeBinary}, m.Runtime) {
		fail("runtime", "must be builtin, lua or binary, got %q", m.Runtime)
	}

	if m.MinPlatformVersion != "" {
		minVersion, err := semver.StrictNewVersion(m.MinPlatformVersion)
		switch {
		case err != nil:
			fail("minPlatformVersion", "%q is not a semantic version: %v", m.MinPlatformVersion, err)
		case platform != nil && minVersion.GreaterThan(platform):
			fail("minPlatformVersion", "requires platform %s, running %s", minVersion, platform)
		}
	}

	for i, p := range m.Permissions {
		field := fmt.Sprintf("permissions[%d]", i)
		if strings.TrimSpace(p) == "" {
			fail(field, "cannot be empty")
			continue
		}
		if _, err := capability.Compile(p); err != nil {
			fail(field, "%q is not a valid permission pattern", p)
		}
	}

	for i, c := range m.Capabilities {
		if strings.TrimSpace(c) == "" {
			fail(fmt.Sprintf("capabilities[%d]", i), "cannot be empty")
		}
	}

	for _, dep := range slices.Sorted(maps.Keys(m.Dependencies)) {
		field := "dependencies." + dep
		switch {
		case dep == "":
			fail("dependencies", "dependency id cannot be empty")
		case dep == m.ID:
			fail(field, "a plugin cannot depend on itself")
		default:
			if _, err := semver.NewConstraint(m.Dependencies[dep]); err != nil {
				fail(field, "%q is not a valid version range: %v", m.Dependencies[dep], err)
			}
		}
	}

	for i, s := range m.EventSubscriptions {
		if strings.TrimSpace(s.Topic) == "" {
			fail(fmt.Sprintf("eventSubscriptions[%d].topic", i), "is required")
		}
		if strings.TrimSpace(s.Handler) == "" {
			fail(fmt.Sprintf("eventSubscriptions[%d].handler", i), "is required")
		}
	}

	seen := make(map[string]int, len(m.APIEndpoints))
	for i, ep := range m.APIEndpoints {
		prefix := fmt.Sprintf("apiEndpoints[%d]", i)
		method := strings.ToUpper(ep.Method)
		if !slices.Contains(allowedMethods, method) {
			fail(prefix+".method", "%q is not a supported HTTP method", ep.Method)
		}
		if !strings.HasPrefix(ep.Path, "/") {
			fail(prefix+".path", "%q must start with '/'", ep.Path)
		}
		if strings.TrimSpace(ep.Handler) == "" {
			fail(prefix+".handler", "is required")
		}
		key := method + " " + ep.Path
		if prev, dup := seen[key]; dup {
			fail(prefix, "duplicates apiEndpoints[%d] (%s)", prev, key)
		} else {
			seen[key] = i
		}
	}

	if len(fields) > 0 {
		return errValidation(m.ID, fields)
	}
	return nil
}

// SemVer returns the parsed version. The manifest must have validated.
func (m *Manifest) SemVer() *semver.Version {
	v, err := semver.StrictNewVersion(m.Version)
	if err != nil {
		return nil
	}
	return v
}

// ResolvedRuntime returns the declared runtime, or infers it from main.
func (m *Manifest) ResolvedRuntime() Runtime {
	if m.Runtime != "" {
		return m.Runtime
	}
	switch {
	case strings.HasPrefix(m.Main, builtinPrefix):
		return RuntimeBuiltin
	case strings.HasSuffix(m.Main, ".lua"):
		return RuntimeLua
	default:
		return RuntimeBinary
	}
}

// BuiltinName returns the constructor name of a builtin main entry.
func (m *Manifest) BuiltinName() string {
	return strings.TrimPrefix(m.Main, builtinPrefix)
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	c := *m
	c.Permissions = slices.Clone(m.Permissions)
	c.Capabilities = slices.Clone(m.Capabilities)
	c.Dependencies = maps.Clone(m.Dependencies)
	c.EventSubscriptions = slices.Clone(m.EventSubscriptions)
	c.APIEndpoints = slices.Clone(m.APIEndpoints)
	return &c
}
