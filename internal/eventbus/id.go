// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package eventbus

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewID returns a monotonic ULID string. Ids generated by one process sort
// in creation order.
func NewID() string {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
