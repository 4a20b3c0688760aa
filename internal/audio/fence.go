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
	"sync"
	"time"
)

// Infinite makes Fence.Wait and Device.SubmitBuffers block until signalled
const Infinite time.Duration = -1

// Fence is a binary auto-reset event. The engine signals it when a buffer
// is ready; one Wait consumes one signal and signals never accumulate.
type Fence struct {
	signal    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewFence creates an unsignalled fence
func NewFence() *Fence {
	return &Fence{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Signal sets the fence. It never blocks, so engine threads may call it
// from a real-time callback.
func (f *Fence) Signal() {
	select {
	case <-f.done:
		return
	default:
	}

	select {
	case f.signal <- struct{}{}:
	default:
		// already signalled
	}
}

// Wait blocks until the fence is signalled or the timeout elapses and
// reports whether the signal was consumed. A zero timeout polls, Infinite
// waits forever. Waiting on a closed fence returns false immediately.
func (f *Fence) Wait(timeout time.Duration) bool {
	select {
	case <-f.done:
		return false
	default:
	}

	if timeout == 0 {
		select {
		case <-f.signal:
			return true
		default:
			return false
		}
	}

	if timeout < 0 {
		select {
		case <-f.signal:
			return true
		case <-f.done:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.signal:
		return true
	case <-f.done:
		return false
	case <-timer.C:
		return false
	}
}

// Close destroys the fence and releases any waiter. Safe to call twice.
func (f *Fence) Close() {
	f.closeOnce.Do(func() {
		close(f.done)
	})
}
