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
	"time"
)

type deviceState int

const (
	deviceCreated deviceState = iota
	deviceStarted
	deviceStopped
	deviceDestroyed
)

// deviceStream is the direction-specific buffer exchange handle. It is a
// closed set: inputStream or outputStream.
type deviceStream interface {
	isDeviceStream()
}

type inputStream struct {
	client CaptureClient
}

type outputStream struct {
	client     RenderClient
	bufferSize uint32
}

func (inputStream) isDeviceStream()  {}
func (outputStream) isDeviceStream() {}

// acquired is the state carried from acquire to release
type acquired struct {
	buffers StreamBuffers
	frames  uint32
}

// Device is an opened endpoint bound to one direction. The thread that
// drives SubmitBuffers owns it; Start, Stop and Close may come from another
// goroutine.
type Device struct {
	id       PhysicalDeviceID
	client   AudioClient
	fence    *Fence
	stream   deviceStream
	callback StreamCallback
	view     *Stream
	logger   *slog.Logger

	mu    sync.Mutex
	state deviceState

	// submitMu is held for a whole submit cycle so Close waits for it
	submitMu sync.Mutex
}

// ID returns the physical device the Device was opened on
func (d *Device) ID() PhysicalDeviceID {
	return d.id
}

// Stream returns the properties view of the device's direction
func (d *Device) Stream() *Stream {
	return d.view
}

// Properties returns the negotiated stream properties
func (d *Device) Properties() StreamProperties {
	return d.view.properties
}

// Start begins streaming. Starting a started device is a no-op.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case deviceDestroyed:
		return validationError("device %q is destroyed", d.id)
	case deviceStarted:
		return nil
	}

	if err := d.client.Start(); err != nil {
		return unavailable("failed to start device", err)
	}

	d.state = deviceStarted
	d.logger.Debug("device started", "device", d.id)
	return nil
}

// Stop halts streaming. Stopping a device that is not running is a no-op.
// Buffered data does not survive a stop/start cycle.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case deviceDestroyed:
		return validationError("device %q is destroyed", d.id)
	case deviceCreated, deviceStopped:
		return nil
	}

	if err := d.client.Stop(); err != nil {
		return unavailable("failed to stop device", err)
	}

	d.state = deviceStopped
	d.logger.Debug("device stopped", "device", d.id)
	return nil
}

// SubmitBuffers runs one buffer cycle: wait on the fence for up to timeout,
// acquire the ready region, hand it to the stream callback and release it.
// It returns the number of frames exchanged. ErrTimeout is retryable.
func (d *Device) SubmitBuffers(timeout time.Duration) (Frames, error) {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	d.mu.Lock()
	destroyed := d.state == deviceDestroyed
	d.mu.Unlock()
	if destroyed {
		return 0, validationError("device %q is destroyed", d.id)
	}

	acq, err := d.acquireBuffers(timeout)
	if err != nil {
		return 0, err
	}
	if acq == nil {
		return 0, nil
	}

	d.callback(d.view, acq.buffers)

	if err := d.releaseBuffers(acq.frames); err != nil {
		return 0, err
	}
	return Frames(acq.frames), nil
}

// acquireBuffers returns nil when a capture device has no packet ready
func (d *Device) acquireBuffers(timeout time.Duration) (*acquired, error) {
	if !d.fence.Wait(timeout) {
		return nil, fmt.Errorf("device %q: %w", d.id, ErrTimeout)
	}

	switch s := d.stream.(type) {
	case inputStream:
		packet, err := s.client.GetNextPacketSize()
		if err != nil {
			return nil, unavailable("failed to query packet size", err)
		}
		if packet == 0 {
			return nil, nil
		}

		data, frames, flags, err := s.client.GetBuffer()
		if err != nil {
			return nil, unavailable("failed to acquire capture buffer", err)
		}
		if flags != 0 {
			d.logger.Warn("capture buffer status", "device", d.id, "flags", fmt.Sprintf("0x%x", uint32(flags)))
		}

		return &acquired{
			buffers: StreamBuffers{Frames: Frames(frames), Input: data},
			frames:  frames,
		}, nil

	case outputStream:
		padding, err := d.client.GetCurrentPadding()
		if err != nil {
			return nil, unavailable("failed to query padding", err)
		}
		if padding > s.bufferSize {
			return nil, unavailable("invalid padding", fmt.Errorf("padding %d exceeds buffer size %d", padding, s.bufferSize))
		}

		frames := s.bufferSize - padding
		data, err := s.client.GetBuffer(frames)
		if err != nil {
			return nil, unavailable("failed to acquire render buffer", err)
		}

		return &acquired{
			buffers: StreamBuffers{Frames: Frames(frames), Output: data},
			frames:  frames,
		}, nil

	default:
		panic(fmt.Sprintf("unexpected device stream %T", d.stream))
	}
}

func (d *Device) releaseBuffers(frames uint32) error {
	switch s := d.stream.(type) {
	case inputStream:
		if err := s.client.ReleaseBuffer(frames); err != nil {
			return unavailable("failed to release capture buffer", err)
		}
	case outputStream:
		if err := s.client.ReleaseBuffer(frames, 0); err != nil {
			return unavailable("failed to release render buffer", err)
		}
	default:
		panic(fmt.Sprintf("unexpected device stream %T", d.stream))
	}
	return nil
}

// Close releases the native stream and the fence exactly once. It waits
// for a submit cycle in flight. Failures are logged, never returned.
func (d *Device) Close() {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == deviceDestroyed {
		return
	}

	if d.state == deviceStarted {
		if err := d.client.Stop(); err != nil {
			d.logger.Warn("failed to stop device during close", "device", d.id, "err", err)
		}
	}

	if err := d.client.Release(); err != nil {
		d.logger.Warn("failed to release audio client", "device", d.id, "err", err)
	}
	d.fence.Close()

	d.state = deviceDestroyed
	d.logger.Debug("device closed", "device", d.id)
}
