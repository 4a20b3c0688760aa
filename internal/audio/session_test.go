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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession(t *testing.T) {
	t.Run("close_demotes_once", func(t *testing.T) {
		priority := &fakePriority{}
		instance := newTestInstance(t, NewMockAudioBackend(speakers()), WithThreadPriority(priority))

		session, err := instance.CreateSession(48000)
		require.NoError(t, err)
		assert.Equal(t, 48000, session.SampleRate())
		assert.Equal(t, 1, priority.promoted)

		session.Close()
		session.Close()
		assert.Equal(t, 1, priority.demoted)
	})

	t.Run("invalid_rate", func(t *testing.T) {
		priority := &fakePriority{}
		instance := newTestInstance(t, NewMockAudioBackend(speakers()), WithThreadPriority(priority))

		_, err := instance.CreateSession(0)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, 0, priority.promoted)
	})

	t.Run("promotion_failure", func(t *testing.T) {
		priority := &fakePriority{promoteErr: fmt.Errorf("permission denied")}
		instance := newTestInstance(t, NewMockAudioBackend(speakers()), WithThreadPriority(priority))

		_, err := instance.CreateSession(48000)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestPlatformThreadPriority(t *testing.T) {
	priority := newThreadPriority()

	handle, err := priority.Promote(48000)
	if err != nil {
		// raising priority needs privileges on most systems
		t.Skipf("thread promotion unavailable: %v", err)
	}
	assert.Equal(t, 48000, handle.SampleRate)
	assert.NoError(t, priority.Demote(handle))
}
