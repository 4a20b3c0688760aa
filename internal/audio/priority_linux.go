//go:build linux

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
	"runtime"

	"golang.org/x/sys/unix"
)

// realtimeNice is the nice value given to promoted audio threads
const realtimeNice = -10

// nicePriority adjusts the nice value of the current OS thread. Linux
// applies PRIO_PROCESS with a thread id to that thread alone.
type nicePriority struct{}

func newThreadPriority() ThreadPriority {
	return nicePriority{}
}

func (nicePriority) Promote(sampleRate int) (PriorityHandle, error) {
	runtime.LockOSThread()

	tid := unix.Gettid()
	previous, err := unix.Getpriority(unix.PRIO_PROCESS, tid)
	if err != nil {
		runtime.UnlockOSThread()
		return PriorityHandle{}, fmt.Errorf("getpriority: %w", err)
	}

	if err := unix.Setpriority(unix.PRIO_PROCESS, tid, realtimeNice); err != nil {
		runtime.UnlockOSThread()
		return PriorityHandle{}, fmt.Errorf("setpriority: %w", err)
	}

	// the raw syscall returns 20 - nice
	return PriorityHandle{Previous: 20 - previous, SampleRate: sampleRate}, nil
}

func (nicePriority) Demote(handle PriorityHandle) error {
	defer runtime.UnlockOSThread()

	if err := unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), handle.Previous); err != nil {
		return fmt.Errorf("setpriority: %w", err)
	}
	return nil
}
