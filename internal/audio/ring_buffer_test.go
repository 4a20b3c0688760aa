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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frames(frameSize int, values ...byte) []byte {
	data := make([]byte, 0, len(values)*frameSize)
	for _, v := range values {
		for i := 0; i < frameSize; i++ {
			data = append(data, v)
		}
	}
	return data
}

func TestRingBuffer(t *testing.T) {
	t.Run("write_read_wraps", func(t *testing.T) {
		rb := newRingBuffer(4, 2)
		assert.Equal(t, 4, rb.Capacity())

		assert.Equal(t, 3, rb.Write(frames(2, 1, 2, 3)))
		out := make([]byte, 4)
		assert.Equal(t, 2, rb.Read(out))
		assert.Equal(t, frames(2, 1, 2), out)

		// write across the end of the backing array
		assert.Equal(t, 3, rb.Write(frames(2, 4, 5, 6)))
		assert.Equal(t, 4, rb.Available())
		assert.Equal(t, 0, rb.Free())

		out = make([]byte, 8)
		assert.Equal(t, 4, rb.Read(out))
		assert.Equal(t, frames(2, 3, 4, 5, 6), out)
	})

	t.Run("overflow_drops_and_flags", func(t *testing.T) {
		rb := newRingBuffer(2, 2)

		assert.Equal(t, 2, rb.Write(frames(2, 1, 2, 3)))
		assert.True(t, rb.TakeOverflow())
		assert.False(t, rb.TakeOverflow(), "flag is cleared once taken")
	})

	t.Run("underrun_zero_fills", func(t *testing.T) {
		rb := newRingBuffer(4, 2)
		rb.Write(frames(2, 7))

		out := frames(2, 9, 9, 9)
		assert.Equal(t, 1, rb.Read(out))
		assert.Equal(t, frames(2, 7, 0, 0), out)
	})

	t.Run("partial_frames_ignored", func(t *testing.T) {
		rb := newRingBuffer(4, 4)
		assert.Equal(t, 1, rb.Write(make([]byte, 6)))
		assert.Equal(t, 1, rb.Available())
	})

	t.Run("reset", func(t *testing.T) {
		rb := newRingBuffer(4, 1)
		rb.Write(frames(1, 1, 2, 3, 4, 5))
		rb.Reset()
		assert.Equal(t, 0, rb.Available())
		assert.False(t, rb.TakeOverflow())
	})
}

func TestBufferExchange(t *testing.T) {
	t.Run("render_protocol", func(t *testing.T) {
		ex := newBufferExchange(4, 2)

		data, err := ex.acquireRender(3)
		require.NoError(t, err)
		require.Len(t, data, 6)
		copy(data, frames(2, 1, 2, 3))

		_, err = ex.acquireRender(1)
		assert.Error(t, err, "only one region may be held")

		assert.Error(t, ex.releaseRender(2, 0), "release must match acquire")
		require.NoError(t, ex.releaseRender(3, 0))
		assert.Equal(t, uint32(3), ex.padding())

		_, err = ex.acquireRender(2)
		assert.Error(t, err, "cannot acquire more than is free")
	})

	t.Run("silent_flag_zeroes", func(t *testing.T) {
		ex := newBufferExchange(2, 1)

		data, err := ex.acquireRender(2)
		require.NoError(t, err)
		copy(data, []byte{5, 5})
		require.NoError(t, ex.releaseRender(2, BufferFlagSilent))

		out := make([]byte, 2)
		ex.ring.Read(out)
		assert.Equal(t, []byte{0, 0}, out)
	})

	t.Run("capture_protocol", func(t *testing.T) {
		ex := newBufferExchange(2, 1)
		ex.ring.Write([]byte{1, 2, 3})

		assert.Equal(t, uint32(2), ex.nextPacketSize())
		data, n, flags, err := ex.acquireCapture()
		require.NoError(t, err)
		assert.Equal(t, uint32(2), n)
		assert.Equal(t, []byte{1, 2}, data)
		assert.Equal(t, BufferFlagDataDiscontinuity, flags)

		assert.Error(t, ex.releaseCapture(1))
		require.NoError(t, ex.releaseCapture(2))
		assert.Error(t, ex.releaseCapture(2), "nothing held")
	})
}
