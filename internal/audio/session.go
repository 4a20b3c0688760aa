/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// PriorityHandle is the token returned by a promotion. It is passed back
// unchanged to Demote.
type PriorityHandle struct {
	// Previous is the scheduling value in effect before promotion
	Previous int
	// SampleRate is the rate hint the thread was promoted for
	SampleRate int
}

// ThreadPriority raises and restores the priority of the calling thread.
// Promote and Demote must run on the same goroutine.
type ThreadPriority interface {
	Promote(sampleRate int) (PriorityHandle, error)
	Demote(handle PriorityHandle) error
}

// Session is a scoped real-time promotion of the calling thread. Create it
// on the goroutine that drives SubmitBuffers and defer Close.
type Session struct {
	priority  ThreadPriority
	handle    PriorityHandle
	logger    *slog.Logger
	closeOnce sync.Once
}

func newSession(priority ThreadPriority, sampleRate int, logger *slog.Logger) (*Session, error) {
	if sampleRate <= 0 {
		return nil, validationError("invalid session sample rate %d", sampleRate)
	}

	handle, err := priority.Promote(sampleRate)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("failed to promote thread for %d Hz", sampleRate), err)
	}

	logger.Debug("session started", "sample_rate", sampleRate)
	return &Session{
		priority: priority,
		handle:   handle,
		logger:   logger,
	}, nil
}

// SampleRate returns the rate hint the session was created with
func (s *Session) SampleRate() int {
	return s.handle.SampleRate
}

// Close demotes the thread. Only the first call has an effect.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if err := s.priority.Demote(s.handle); err != nil {
			s.logger.Warn("failed to demote thread", "err", err)
			return
		}
		s.logger.Debug("session ended", "sample_rate", s.handle.SampleRate)
	})
}
