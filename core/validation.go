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


package core

import (
	"strings"
	"time"
)

// ValidateScope fails closed: a scope without a project never reaches storage.
func ValidateScope(scope TenantScope) error {
	if strings.TrimSpace(scope.ProjectID) == "" {
		return NewError(KindValidation, ErrEmptyProjectID.Error(), ErrEmptyProjectID)
	}
	return nil
}

// ValidateContentItem validates a ContentItem before ingestion.
//
// Validation rules:
//   - Scope must carry a project
//   - URL must not be empty
//
// NOT validated:
//   - Text (empty text is a valid, zero-chunk ingestion)
func ValidateContentItem(item *ContentItem) error {
	if item == nil {
		return Errorf(KindValidation, "content item is nil")
	}
	if err := ValidateScope(item.Scope); err != nil {
		return err
	}
	if strings.TrimSpace(item.URL) == "" {
		return NewError(KindValidation, ErrEmptyURL.Error(), ErrEmptyURL)
	}
	return nil
}

// ValidateChunks checks that chunks carry indices 0..N-1 in order.
func ValidateChunks(chunks []Chunk) error {
	for i, c := range chunks {
		if c.Index != i {
			return Errorf(KindValidation, "%w: position %d has index %d", ErrNonContiguousChunks, i, c.Index)
		}
	}
	return nil
}

// Transition moves a session to next, enforcing monotonic status changes.
// UpdatedAt is set to now and CompletedAt is stamped on terminal states.
func Transition(s *IngestionSession, next SessionStatus, now time.Time) error {
	if !s.Status.CanTransition(next) {
		return Errorf(KindValidation, "%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}
	s.Status = next
	s.UpdatedAt = now
	if next.Terminal() {
		s.CompletedAt = now
	}
	return nil
}

// SetTotalChunks fixes the session's chunk count. It may only be called once.
func SetTotalChunks(s *IngestionSession, total int) error {
	if s.TotalSet {
		return Errorf(KindValidation, "%w: %d", ErrTotalChunksAlreadySet, s.TotalChunks)
	}
	s.TotalChunks = total
	s.TotalSet = true
	return nil
}

// AdvanceProgress records completed chunks. Progress never moves backwards
// and never exceeds the total.
func AdvanceProgress(s *IngestionSession, current int, now time.Time) {
	if current > s.TotalChunks {
		current = s.TotalChunks
	}
	if current > s.CurrentChunk {
		s.CurrentChunk = current
	}
	s.UpdatedAt = now
}
