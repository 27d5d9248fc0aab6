// Copyright 2025 The replaygate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package throttler implements the rolling-window rate limiter (C4): a
// FIFO of submission timestamps, evicted lazily on each call.
package throttler

import (
	"container/list"
	"sync"
	"time"
)

// Config holds the throttler's static configuration.
type Config struct {
	// MaxRequestsPerWindow disables throttling when <= 0.
	MaxRequestsPerWindow int
	// Window is the rolling window duration.
	Window time.Duration
}

// Throttler is a rolling-window rate limiter. CalculateDelay appends a
// timestamp only when it returns 0; a caller that receives a non-zero
// delay must sleep for it and then call RecordRequest once the request
// actually goes out, so that a sleeping-but-not-yet-submitted caller
// doesn't count against the window twice.
type Throttler struct {
	mu         sync.Mutex
	cfg        Config
	timestamps *list.List // front = oldest
}

// New constructs a Throttler. A zero or negative MaxRequestsPerWindow
// disables throttling entirely (CalculateDelay always returns 0).
func New(cfg Config) *Throttler {
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	return &Throttler{cfg: cfg, timestamps: list.New()}
}

// Enabled reports whether the throttler is actively limiting.
func (t *Throttler) Enabled() bool {
	return t.cfg.MaxRequestsPerWindow > 0
}

func (t *Throttler) evictLocked(now time.Time) {
	cutoff := now.Add(-t.cfg.Window)
	for e := t.timestamps.Front(); e != nil; {
		ts := e.Value.(time.Time)
		if ts.After(cutoff) {
			break
		}
		next := e.Next()
		t.timestamps.Remove(e)
		e = next
	}
}

// CalculateDelay evicts stale timestamps and returns how long the caller
// must wait before submitting. If the window still has room, it appends
// `now` immediately and returns 0 (matching the Python original: the
// "there is room" branch both decides and records in one step). If the
// window is full, it returns the remaining time until the oldest entry
// falls out of the window, WITHOUT appending — the caller must call
// RecordRequest after it actually sleeps and submits.
func (t *Throttler) CalculateDelay() time.Duration {
	if !t.Enabled() {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.evictLocked(now)

	if t.timestamps.Len() < t.cfg.MaxRequestsPerWindow {
		t.timestamps.PushBack(now)
		return 0
	}

	oldest := t.timestamps.Front().Value.(time.Time)
	delay := oldest.Add(t.cfg.Window).Sub(now)
	if delay < 0 {
		delay = 0
	}
	return delay
}

// RecordRequest appends a submission timestamp (defaulting to now),
// evicting stale entries first. Call this after sleeping out a delay
// CalculateDelay returned and actually submitting the request.
func (t *Throttler) RecordRequest(ts time.Time) {
	if !t.Enabled() {
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.evictLocked(ts)
	t.timestamps.PushBack(ts)
}

// CurrentCount returns the number of timestamps currently inside the
// window, after evicting stale ones.
func (t *Throttler) CurrentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evictLocked(time.Now())
	return t.timestamps.Len()
}
