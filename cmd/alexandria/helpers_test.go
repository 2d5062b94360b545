// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package main

import (
	"bytes"
	"log/slog"
	"sync"

	"github.com/PolycarpusTack/Alexandria-sub004/internal/logging"
)

// syncBuffer lets the test read logs while serve writes them.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return logging.Setup(logging.Options{Service: "alexandria", Writer: buf}), buf
}
