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
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCoordinator(t *testing.T) {
	defer leaktest.Check(t)()

	Convey("Given a fresh coordinator", t, func() {
		coord := NewCoordinator()
		ctx := context.Background()

		Convey("Short-lived sections enter freely while the writer is idle", func() {
			So(coord.AcquireShortLived(ctx), ShouldBeNil)
			So(coord.AcquireShortLived(ctx), ShouldBeNil)
			coord.ReleaseShortLived()
			coord.ReleaseShortLived()
		})

		Convey("The long-lived writer waits for short-lived sections to drain", func() {
			So(coord.AcquireShortLived(ctx), ShouldBeNil)

			acquired := make(chan struct{})
			go func() {
				if err := coord.AcquireLongLived(ctx); err == nil {
					close(acquired)
				}
			}()

			select {
			case <-acquired:
				So("long-lived writer entered with a short-lived section active", ShouldBeEmpty)
			case <-time.After(50 * time.Millisecond):
			}

			coord.ReleaseShortLived()
			select {
			case <-acquired:
			case <-time.After(time.Second):
				So("long-lived writer never entered", ShouldBeEmpty)
			}
			coord.ReleaseLongLived()
		})

		Convey("Short-lived writers block while the long-lived writer is active", func() {
			So(coord.AcquireLongLived(ctx), ShouldBeNil)

			acquired := make(chan struct{})
			go func() {
				if err := coord.AcquireShortLived(ctx); err == nil {
					close(acquired)
				}
			}()

			select {
			case <-acquired:
				So("short-lived writer entered with the long-lived writer active", ShouldBeEmpty)
			case <-time.After(50 * time.Millisecond):
			}

			coord.ReleaseLongLived()
			select {
			case <-acquired:
			case <-time.After(time.Second):
				So("short-lived writer never entered", ShouldBeEmpty)
			}
			coord.ReleaseShortLived()
		})

		Convey("A cancelled long-lived wait clears its flag", func() {
			So(coord.AcquireShortLived(ctx), ShouldBeNil)

			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			So(coord.AcquireLongLived(cancelled), ShouldEqual, context.Canceled)

			// the flag must be gone, so another short-lived section can enter
			So(coord.AcquireShortLived(ctx), ShouldBeNil)
			coord.ReleaseShortLived()
			coord.ReleaseShortLived()
		})

		Convey("A cancelled short-lived wait returns without entering", func() {
			So(coord.AcquireLongLived(ctx), ShouldBeNil)

			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			So(coord.AcquireShortLived(cancelled), ShouldEqual, context.Canceled)
			coord.ReleaseLongLived()
		})
	})
}

func TestCoordinatorExclusion(t *testing.T) {
	defer leaktest.Check(t)()

	Convey("Given many competing sections", t, func() {
		const (
			workers    = 8
			iterations = 200
		)
		var (
			coord      = NewCoordinator()
			ctx        = context.Background()
			wg         sync.WaitGroup
			shortCount int64
			longActive int64
			violations int64
		)

		wg.Add(workers + 1)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				for j := 0; j < iterations; j++ {
					if err := coord.AcquireShortLived(ctx); err != nil {
						atomic.AddInt64(&violations, 1)
						return
					}
					atomic.AddInt64(&shortCount, 1)
					if atomic.LoadInt64(&longActive) != 0 {
						atomic.AddInt64(&violations, 1)
					}
					atomic.AddInt64(&shortCount, -1)
					coord.ReleaseShortLived()
				}
			}()
		}
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				if err := coord.AcquireLongLived(ctx); err != nil {
					atomic.AddInt64(&violations, 1)
					return
				}
				atomic.StoreInt64(&longActive, 1)
				if atomic.LoadInt64(&shortCount) != 0 {
					atomic.AddInt64(&violations, 1)
				}
				atomic.StoreInt64(&longActive, 0)
				coord.ReleaseLongLived()
			}
		}()
		wg.Wait()

		So(violations, ShouldEqual, 0)
	})
}
