/*
 * Copyright 2022 The utxowatch Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package storage

import (
	"context"
	"sync"
)

// Coordinator arbitrates the single long-lived writer against a fluctuating
// pool of short-lived read-write sections. At any instant either the
// long-lived writer is inside a transaction and no short-lived writer is, or
// zero-or-more short-lived writers are and the long-lived writer is not.
// Short-lived read-only sections are unconstrained.
type Coordinator struct {
	mu         sync.Mutex
	shortLived int
	longLived  bool
	changed    chan struct{}
}

// NewCoordinator returns a ready Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{changed: make(chan struct{})}
}

func (c *Coordinator) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// AcquireShortLived blocks until the long-lived writer is idle, then enters a
// short-lived read-write section.
func (c *Coordinator) AcquireShortLived(ctx context.Context) error {
	for {
		c.mu.Lock()
		if !c.longLived {
			c.shortLived++
			c.notifyLocked()
			c.mu.Unlock()
			return nil
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ReleaseShortLived leaves a short-lived read-write section.
func (c *Coordinator) ReleaseShortLived() {
	c.mu.Lock()
	c.shortLived--
	c.notifyLocked()
	c.mu.Unlock()
}

// AcquireLongLived flags the long-lived writer as active, blocking new
// short-lived writers, then waits for in-flight short-lived sections to
// drain. On cancellation the flag is cleared before returning.
func (c *Coordinator) AcquireLongLived(ctx context.Context) error {
	c.mu.Lock()
	c.longLived = true
	c.notifyLocked()
	c.mu.Unlock()

	for {
		c.mu.Lock()
		if c.shortLived == 0 {
			c.mu.Unlock()
			return nil
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			c.ReleaseLongLived()
			return ctx.Err()
		}
	}
}

// ReleaseLongLived clears the long-lived writer flag.
func (c *Coordinator) ReleaseLongLived() {
	c.mu.Lock()
	c.longLived = false
	c.notifyLocked()
	c.mu.Unlock()
}
