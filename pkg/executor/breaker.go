// Copyright 2025 Kadir Pekel
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

package executor

import (
	"sync"
	"time"
)

// circuitBreaker tracks per-agent consecutive failures within a sliding
// window, scoped to a single run. Three failures inside the window trip
// the breaker; any success resets its count.
type circuitBreaker struct {
	mu           sync.Mutex
	failureLimit int
	window       time.Duration
	failures     map[string][]time.Time
	open         map[string]bool
}

func newCircuitBreaker(failureLimit int, window time.Duration) *circuitBreaker {
	return &circuitBreaker{
		failureLimit: failureLimit,
		window:       window,
		failures:     make(map[string][]time.Time),
		open:         make(map[string]bool),
	}
}

// Allow reports whether agentID may be engaged. A tripped breaker stays
// open for the remainder of the run.
func (b *circuitBreaker) Allow(agentID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.open[agentID]
}

// RecordFailure registers a failed engagement and trips the breaker if
// failureLimit failures have landed inside window.
func (b *circuitBreaker) RecordFailure(agentID string, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := at.Add(-b.window)
	kept := b.failures[agentID][:0]
	for _, ts := range b.failures[agentID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, at)
	b.failures[agentID] = kept

	if len(kept) >= b.failureLimit {
		b.open[agentID] = true
	}
}

// RecordSuccess clears agentID's failure history.
func (b *circuitBreaker) RecordSuccess(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, agentID)
}
