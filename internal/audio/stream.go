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

import "unsafe"

// StreamProperties is the negotiated layout of a stream
type StreamProperties struct {
	Channels   ChannelMask
	SampleRate int
	// BufferSize is the buffer capacity in frames
	BufferSize Frames
}

// NumChannels returns the number of interleaved channels
func (p StreamProperties) NumChannels() int {
	return p.Channels.NumChannels()
}

// Stream is the read-only view of a Device's direction. It lives exactly
// as long as the Device that created it.
type Stream struct {
	properties StreamProperties
}

// Properties returns the values fixed when the Device was created
func (s *Stream) Properties() StreamProperties {
	return s.properties
}

// StreamBuffers is the region acquired for one submit cycle. The slices
// are only valid inside the stream callback.
type StreamBuffers struct {
	Frames Frames
	Input  []byte
	Output []byte
}

// InputF32 views the input region as interleaved float samples
func (b StreamBuffers) InputF32() []float32 {
	return bytesToFloat32(b.Input)
}

// OutputF32 views the output region as interleaved float samples
func (b StreamBuffers) OutputF32() []float32 {
	return bytesToFloat32(b.Output)
}

func bytesToFloat32(data []byte) []float32 {
	if len(data) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), len(data)/4)
}

// StreamCallback fills or consumes one acquired buffer. For output every
// sample of buffers.Output must be written; nothing is pre-silenced.
type StreamCallback func(stream *Stream, buffers StreamBuffers)

func float32ToBytes(samples []float32) []byte {
	if len(samples) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&samples[0])), len(samples)*4)
}
