// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

// Command gen-schema writes the plugin manifest JSON Schema, so editors can
// validate plugin.yaml files.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	plugins "github.com/PolycarpusTack/Alexandria-sub004/internal/plugin"
)

func main() {
	out := pflag.StringP("out", "o", filepath.Join("schemas", "plugin.schema.json"), "output file ('-' for stdout)")
	pflag.Parse()

	if err := run(*out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(outPath string) error {
	schema, err := plugins.GenerateSchema()
	if err != nil {
		return fmt.Errorf("generating schema: %w", err)
	}

	if outPath == "-" {
		_, err := os.Stdout.Write(append(schema, '\n'))
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(outPath, append(schema, '\n'), 0o600); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	fmt.Printf("Generated %s\n", outPath)
	return nil
}
