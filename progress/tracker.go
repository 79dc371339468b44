// Copyright 2025 Poiesic Systems
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

package progress

import (
	"sync"
	"time"

	"github.com/poiesic/ragcore/core"
)

// Tracker tracks the chunk progress of one ingestion session and builds the
// messages published for it. Progress never moves backwards.
type Tracker struct {
	sessionID string
	projectID string
	now       func() time.Time

	mu        sync.Mutex
	total     int
	totalSet  bool
	current   int
	startTime time.Time
	started   bool
}

// NewTracker creates a tracker for a session. A nil now uses time.Now.
func NewTracker(sessionID, projectID string, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		sessionID: sessionID,
		projectID: projectID,
		now:       now,
	}
}

// Start begins timing.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.startTime = t.now()
	t.started = true
	t.current = 0
}

// SetTotal fixes the number of chunks. It may be called once.
func (t *Tracker) SetTotal(total int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.totalSet {
		return core.Errorf(core.KindValidation, "%w: %d", core.ErrTotalChunksAlreadySet, t.total)
	}
	t.total = max(total, 0)
	t.totalSet = true
	return nil
}

// Update sets the number of processed chunks. Values below the current
// position are ignored and values above the total are capped.
func (t *Tracker) Update(current int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.totalSet && current > t.total {
		current = t.total
	}
	if current > t.current {
		t.current = current
	}
}

// Increment advances progress by delta chunks.
func (t *Tracker) Increment(delta int) {
	t.mu.Lock()
	current := t.current + delta
	t.mu.Unlock()
	t.Update(current)
}

// Current returns the processed and total chunk counts.
func (t *Tracker) Current() (current, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.total
}

// Elapsed returns the time elapsed since Start was called.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return 0
	}
	return t.now().Sub(t.startTime)
}

// Message builds a progress message for the current position.
func (t *Tracker) Message(status core.SessionStatus, message string) core.ProgressMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.current
	if status == core.StatusCompleted {
		current = t.total
	}

	percent := 0.0
	switch {
	case status == core.StatusCompleted:
		percent = 100
	case t.total > 0:
		percent = float64(current) / float64(t.total) * 100
	}

	data := core.ProgressData{
		Status:          status,
		Message:         message,
		CurrentChunk:    current,
		TotalChunks:     t.total,
		PercentComplete: percent,
	}
	if t.started {
		elapsed := t.now().Sub(t.startTime).Seconds()
		perf := &core.PerformanceMetrics{ProcessingTime: elapsed}
		if elapsed > 0 {
			perf.ChunksPerSecond = float64(current) / elapsed
		}
		data.PerformanceMetrics = perf
	}

	return core.ProgressMessage{
		Type:      core.ProgressMessageType,
		SessionID: t.sessionID,
		ProjectID: t.projectID,
		Data:      data,
	}
}
