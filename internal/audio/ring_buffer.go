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
	"sync"
)

// ringBuffer is a thread-safe circular buffer of whole frames. Engines that
// receive audio from a native callback or a blocking call queue it here.
type ringBuffer struct {
	buffer    []byte
	frameSize int
	readPos   int
	writePos  int
	count     int // bytes currently buffered
	overflow  bool
	mu        sync.Mutex
}

func newRingBuffer(frames, frameSize int) *ringBuffer {
	return &ringBuffer{
		buffer:    make([]byte, frames*frameSize),
		frameSize: frameSize,
	}
}

// Capacity returns the ring size in frames
func (rb *ringBuffer) Capacity() int {
	return len(rb.buffer) / rb.frameSize
}

// Write queues as many whole frames of p as fit and returns the number of
// frames written. Frames that do not fit are dropped and flagged.
func (rb *ringBuffer) Write(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	free := len(rb.buffer) - rb.count
	n := len(p) - len(p)%rb.frameSize
	if n > free {
		n = free - free%rb.frameSize
		rb.overflow = true
	}

	first := copy(rb.buffer[rb.writePos:], p[:n])
	copy(rb.buffer, p[first:n])

	rb.writePos = (rb.writePos + n) % len(rb.buffer)
	rb.count += n
	return n / rb.frameSize
}

// Read dequeues whole frames into p and returns how many were read. The
// rest of p is zero-filled on underrun.
func (rb *ringBuffer) Read(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p) - len(p)%rb.frameSize
	if n > rb.count {
		n = rb.count
	}

	first := copy(p[:n], rb.buffer[rb.readPos:])
	copy(p[first:n], rb.buffer)

	rb.readPos = (rb.readPos + n) % len(rb.buffer)
	rb.count -= n

	clear(p[n:])
	return n / rb.frameSize
}

// Available returns the number of frames ready to read
func (rb *ringBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count / rb.frameSize
}

// Free returns the number of frames that can be written
func (rb *ringBuffer) Free() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return (len(rb.buffer) - rb.count) / rb.frameSize
}

// TakeOverflow reports whether frames were dropped since the last call
func (rb *ringBuffer) TakeOverflow() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	overflow := rb.overflow
	rb.overflow = false
	return overflow
}

// Reset discards everything buffered
func (rb *ringBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.readPos, rb.writePos, rb.count = 0, 0, 0
	rb.overflow = false
}

// bufferExchange implements the acquire/release half of CaptureClient and
// RenderClient on top of a ringBuffer. The application side stages one
// region at a time; the engine side moves frames through the ring.
type bufferExchange struct {
	ring    *ringBuffer
	staging []byte
	pending uint32
	held    bool
}

func newBufferExchange(frames, frameSize int) *bufferExchange {
	return &bufferExchange{
		ring:    newRingBuffer(frames, frameSize),
		staging: make([]byte, frames*frameSize),
	}
}

// padding returns the frames queued for the engine and not yet played
func (b *bufferExchange) padding() uint32 {
	return uint32(b.ring.Available())
}

// nextPacketSize returns the frames captured and not yet acquired
func (b *bufferExchange) nextPacketSize() uint32 {
	return uint32(b.ring.Available())
}

// acquireRender stages frames for the application to fill
func (b *bufferExchange) acquireRender(frames uint32) ([]byte, error) {
	if b.held {
		return nil, fmt.Errorf("render buffer already acquired")
	}
	if int(frames) > b.ring.Free() {
		return nil, fmt.Errorf("requested %d frames, %d free", frames, b.ring.Free())
	}

	b.pending = frames
	b.held = true
	return b.staging[:int(frames)*b.ring.frameSize], nil
}

// releaseRender queues the staged frames
func (b *bufferExchange) releaseRender(frames uint32, flags BufferFlags) error {
	if !b.held {
		return fmt.Errorf("render buffer not acquired")
	}
	if frames != b.pending {
		return fmt.Errorf("released %d frames, acquired %d", frames, b.pending)
	}

	data := b.staging[:int(frames)*b.ring.frameSize]
	if flags&BufferFlagSilent != 0 {
		clear(data)
	}
	b.ring.Write(data)

	b.held = false
	b.pending = 0
	return nil
}

// acquireCapture dequeues every captured frame into the staging buffer
func (b *bufferExchange) acquireCapture() ([]byte, uint32, BufferFlags, error) {
	if b.held {
		return nil, 0, 0, fmt.Errorf("capture buffer already acquired")
	}

	var flags BufferFlags
	if b.ring.TakeOverflow() {
		flags |= BufferFlagDataDiscontinuity
	}

	frames := b.ring.Read(b.staging)
	b.pending = uint32(frames)
	b.held = true
	return b.staging[:frames*b.ring.frameSize], b.pending, flags, nil
}

// releaseCapture hands the staged region back
func (b *bufferExchange) releaseCapture(frames uint32) error {
	if !b.held {
		return fmt.Errorf("capture buffer not acquired")
	}
	if frames != b.pending {
		return fmt.Errorf("released %d frames, acquired %d", frames, b.pending)
	}

	b.held = false
	b.pending = 0
	return nil
}

// reset drops buffered audio and any staged region
func (b *bufferExchange) reset() {
	b.ring.Reset()
	b.held = false
	b.pending = 0
}

// exchangeCapture adapts a bufferExchange to CaptureClient
type exchangeCapture struct{ exchange *bufferExchange }

func (e exchangeCapture) GetNextPacketSize() (uint32, error) {
	return e.exchange.nextPacketSize(), nil
}

func (e exchangeCapture) GetBuffer() ([]byte, uint32, BufferFlags, error) {
	return e.exchange.acquireCapture()
}

func (e exchangeCapture) ReleaseBuffer(frames uint32) error {
	return e.exchange.releaseCapture(frames)
}

// exchangeRender adapts a bufferExchange to RenderClient
type exchangeRender struct{ exchange *bufferExchange }

func (e exchangeRender) GetBuffer(frames uint32) ([]byte, error) {
	return e.exchange.acquireRender(frames)
}

func (e exchangeRender) ReleaseBuffer(frames uint32, flags BufferFlags) error {
	return e.exchange.releaseRender(frames, flags)
}
