// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package plugin

import (
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"github.com/samber/oops"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the manifest JSON Schema.
const SchemaID = "https://alexandria.dev/schemas/plugin.schema.json"

var (
	schemaOnce     sync.Once
	schemaCompiled *jschema.Schema
	schemaErr      error
)

// GenerateSchema generates the manifest JSON Schema from the Manifest struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Manifest{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Alexandria Plugin Manifest"
	schema.Description = "Schema for plugin.yaml manifest files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.In("plugin").Wrapf(err, "marshal schema")
	}
	return data, nil
}

// ValidateSchema checks manifest data (YAML or JSON) against the manifest
// JSON Schema. It catches structural problems, such as unknown keys or a
// list where a map belongs, before Manifest.Validate runs its semantic
// checks. Schema violations are returned as a ValidationError with one
// FieldError per violation.
func ValidateSchema(data []byte) error {
	doc, fields, err := schemaFields(data)
	if err != nil {
		return err
	}
	if len(fields) > 0 {
		return errValidation(docID(doc), fields)
	}
	return nil
}

// schemaFields decodes data and lists its schema violations. err is set
// only when data is not YAML or the schema itself is broken.
func schemaFields(data []byte) (any, []FieldError, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, oops.In("plugin").Code(CodeValidationFailed).Wrapf(err, "invalid YAML")
	}
	doc = toJSONTypes(doc)

	sch, err := compiledSchema()
	if err != nil {
		return nil, nil, err
	}

	err = sch.Validate(doc)
	if err == nil {
		return doc, nil, nil
	}
	var verr *jschema.ValidationError
	if !errors.As(err, &verr) {
		return nil, nil, oops.In("plugin").Code(CodeValidationFailed).Wrapf(err, "schema validation failed")
	}
	var fields []FieldError
	collectSchemaFields(verr, &fields)
	return doc, fields, nil
}

var schemaPrinter = message.NewPrinter(language.English)

// collectSchemaFields flattens the leaves of a jsonschema error tree.
func collectSchemaFields(verr *jschema.ValidationError, out *[]FieldError) {
	if len(verr.Causes) > 0 {
		for _, cause := range verr.Causes {
			collectSchemaFields(cause, out)
		}
		return
	}

	at := fieldPath(verr.InstanceLocation)
	switch k := verr.ErrorKind.(type) {
	case *kind.Required:
		for _, name := range k.Missing {
			*out = append(*out, FieldError{Field: joinField(at, name), Message: "is required"})
		}
	case *kind.AdditionalProperties:
		for _, name := range k.Properties {
			*out = append(*out, FieldError{Field: joinField(at, name), Message: "is not a known manifest key"})
		}
	default:
		if at == "" {
			at = "manifest"
		}
		*out = append(*out, FieldError{Field: at, Message: verr.ErrorKind.LocalizedString(schemaPrinter)})
	}
}

// fieldPath renders ["apiEndpoints", "0", "method"] as apiEndpoints[0].method,
// the notation Manifest.Validate uses.
func fieldPath(loc []string) string {
	var b strings.Builder
	for _, part := range loc {
		if _, err := strconv.Atoi(part); err == nil {
			b.WriteString("[" + part + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}

func joinField(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func docID(doc any) string {
	if m, ok := doc.(map[string]any); ok {
		if id, ok := m["id"].(string); ok {
			return id
		}
	}
	return ""
}

// mergeFields appends the entries of extra not already present in fields.
func mergeFields(fields, extra []FieldError) []FieldError {
	for _, f := range extra {
		if !slices.Contains(fields, f) {
			fields = append(fields, f)
		}
	}
	return fields
}

func compiledSchema() (*jschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := GenerateSchema()
		if err != nil {
			schemaErr = err
			return
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			schemaErr = oops.In("plugin").Wrapf(err, "parse schema")
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource("plugin.schema.json", doc); err != nil {
			schemaErr = oops.In("plugin").Wrapf(err, "add schema resource")
			return
		}
		schemaCompiled, schemaErr = c.Compile("plugin.schema.json")
		if schemaErr != nil {
			schemaErr = oops.In("plugin").Wrapf(schemaErr, "compile schema")
		}
	})
	return schemaCompiled, schemaErr
}

// toJSONTypes normalizes YAML-decoded values into the types the JSON Schema
// validator understands.
func toJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = toJSONTypes(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = toJSONTypes(v)
		}
		return out
	case string, bool, int, int64, float64, nil:
		return val
	default:
		if b, err := json.Marshal(val); err == nil {
			var out any
			if err := json.Unmarshal(b, &out); err == nil {
				return out
			}
		}
		return val
	}
}
