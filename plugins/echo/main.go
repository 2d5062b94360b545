// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

// Command echo is an example binary plugin. It republishes every event it
// receives on echo.request as echo.reply and echoes request bodies on
// POST /echo.
//
// Build it next to its manifest:
//
//	go build -o plugins/echo/echo ./plugins/echo
package main

import "github.com/PolycarpusTack/Alexandria-sub004/pkg/pluginsdk"

func main() {
	pluginsdk.Serve(&pluginsdk.ServeConfig{Plugin: &Echo{}})
}
