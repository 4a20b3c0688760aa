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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-audir/internal/audio"
	"github.com/loqalabs/loqa-audir/internal/config"
)

// mockPeriod is how often the simulated engine advances
const mockPeriod = 10 * time.Millisecond

// engine is an Instance plus whatever keeps its backend running
type engine struct {
	cfg      *config.Config
	instance *audio.Instance
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newBackend(cfg *config.Config) (audio.AudioBackend, error) {
	switch cfg.Backend {
	case config.BackendMock:
		return newMockBackend(cfg.SampleRate), nil
	case config.BackendPortAudio:
		return audio.NewPortAudioBackend(), nil
	case config.BackendMalgo:
		return audio.NewMalgoBackend(), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// newMockBackend offers a speaker and a microphone at the common rates
func newMockBackend(sampleRate int) *audio.MockAudioBackend {
	var formats []audio.FrameDesc
	for _, rate := range []int{44100, 48000, sampleRate} {
		for _, channels := range []audio.ChannelMask{audio.ChannelsStereo, audio.ChannelsMono} {
			formats = append(formats, audio.FrameDesc{Format: audio.FormatF32, Channels: channels, SampleRate: rate})
		}
	}
	mix := audio.FrameDesc{Format: audio.FormatF32, Channels: audio.ChannelsStereo, SampleRate: sampleRate}

	return audio.NewMockAudioBackend(
		audio.MockEndpointConfig{
			ID:        "mock-speakers",
			Name:      "Mock Speakers",
			Streams:   audio.StreamOutput,
			Formats:   formats,
			MixFormat: mix,
		},
		audio.MockEndpointConfig{
			ID:        "mock-microphone",
			Name:      "Mock Microphone",
			Streams:   audio.StreamInput,
			Formats:   formats,
			MixFormat: mix,
		},
	)
}

func openEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	backend, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}

	instance, err := audio.NewInstance("audir", backend, audio.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create audio instance: %w", err)
	}

	e := &engine{cfg: cfg, instance: instance, logger: logger, cancel: func() {}}

	if mock, ok := backend.(*audio.MockAudioBackend); ok {
		runCtx, cancel := context.WithCancel(ctx)
		e.cancel = cancel
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			mock.Run(runCtx, mockPeriod)
		}()
	}
	return e, nil
}

func (e *engine) Close() {
	e.cancel()
	e.wg.Wait()
	e.instance.Close()
}

// pickDevice returns the default device for flow, falling back to the
// first enumerated device that offers it
func (e *engine) pickDevice(flow audio.StreamFlags) (audio.PhysicalDeviceID, error) {
	var (
		id  audio.PhysicalDeviceID
		ok  bool
		err error
	)
	if flow == audio.StreamOutput {
		id, ok, err = e.instance.DefaultPhysicalOutputDevice()
	} else {
		id, ok, err = e.instance.DefaultPhysicalInputDevice()
	}
	switch {
	case err == nil && ok:
		return id, nil
	case err != nil && !errors.Is(err, audio.ErrNotFound):
		return "", err
	}

	ids, err := e.instance.EnumeratePhysicalDevices()
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		props, err := e.instance.PhysicalDeviceProperties(id)
		if err != nil {
			e.logger.Warn("skipping device", "device", id, "err", err)
			continue
		}
		if props.Streams.Contains(flow) {
			return id, nil
		}
	}
	return "", fmt.Errorf("no %s device: %w", flow, audio.ErrNotFound)
}

// openDevice creates a device for flow at sampleRate using the configured
// layout and sharing mode
func (e *engine) openDevice(flow audio.StreamFlags, sampleRate int, callback audio.StreamCallback) (*audio.Device, error) {
	id, err := e.pickDevice(flow)
	if err != nil {
		return nil, err
	}

	sharing, err := e.cfg.SharingMode()
	if err != nil {
		return nil, err
	}
	mask, err := e.cfg.ChannelMask()
	if err != nil {
		return nil, err
	}

	var channels audio.Channels
	if flow == audio.StreamOutput {
		channels.Output = mask
	} else {
		channels.Input = mask
	}

	device, err := e.instance.CreateDevice(audio.DeviceDesc{
		PhysicalDevice: id,
		Sharing:        sharing,
		SampleDesc:     audio.SampleDesc{Format: audio.FormatF32, SampleRate: sampleRate},
	}, channels, callback)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s device %q: %w", flow, id, err)
	}

	props := device.Properties()
	e.logger.Info("device opened",
		"device", id,
		"channels", props.Channels,
		"sample_rate", props.SampleRate,
		"buffer_frames", props.BufferSize,
	)
	return device, nil
}

// pollSlice bounds each wait so cancellation is noticed when the
// configured timeout is infinite
const pollSlice = 100 * time.Millisecond

// drive runs the submit loop on the calling goroutine until ctx is done or
// done reports true. Thread promotion failures are not fatal.
func (e *engine) drive(ctx context.Context, device *audio.Device, done func() bool) error {
	session, err := e.instance.CreateSession(device.Properties().SampleRate)
	if err != nil {
		e.logger.Warn("running without real-time priority", "err", err)
	} else {
		defer session.Close()
	}

	if err := device.Start(); err != nil {
		return err
	}
	defer func() {
		if err := device.Stop(); err != nil {
			e.logger.Warn("failed to stop device", "err", err)
		}
	}()

	timeout := e.cfg.SubmitTimeout()
	sliced := timeout == audio.Infinite
	if sliced {
		timeout = pollSlice
	}

	var total audio.Frames
	for ctx.Err() == nil && !done() {
		frames, err := device.SubmitBuffers(timeout)
		switch {
		case err == nil:
			total += frames
		case errors.Is(err, audio.ErrTimeout):
			if !sliced {
				e.logger.Warn("device stalled", "device", device.ID(), "timeout", timeout)
			}
		default:
			return err
		}
	}

	e.logger.Info("stream finished", "device", device.ID(), "frames", total)
	return nil
}
