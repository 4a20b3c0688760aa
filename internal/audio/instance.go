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
	"errors"
	"fmt"
	"log/slog"
)

// Option configures an Instance
type Option func(*instanceOptions)

type instanceOptions struct {
	logger    *slog.Logger
	queueSize int
	priority  ThreadPriority
}

// WithLogger sets the logger used by the Instance and its devices
func WithLogger(logger *slog.Logger) Option {
	return func(o *instanceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEventQueueSize sets how many hot-plug events may wait for PollEvents
func WithEventQueueSize(size int) Option {
	return func(o *instanceOptions) {
		if size > 0 {
			o.queueSize = size
		}
	}
}

// WithThreadPriority replaces the platform thread-priority service
func WithThreadPriority(priority ThreadPriority) Option {
	return func(o *instanceOptions) {
		if priority != nil {
			o.priority = priority
		}
	}
}

// Instance is the root object of the audio core. It owns the device
// registry and the hot-plug event queue. It is not safe for concurrent use:
// the goroutine that created it must make every call except Device I/O.
type Instance struct {
	name      string
	backend   AudioBackend
	registry  *registry
	listener  *notificationListener
	priority  ThreadPriority
	logger    *slog.Logger
	destroyed bool
}

// NewInstance connects to the engine, enumerates capture and then render
// endpoints, and starts listening for hot-plug notifications.
func NewInstance(name string, backend AudioBackend, opts ...Option) (*Instance, error) {
	options := instanceOptions{
		logger:    slog.Default(),
		queueSize: DefaultEventQueueSize,
		priority:  newThreadPriority(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	logger := options.logger.With("instance", name)

	if err := backend.Initialize(); err != nil {
		return nil, unavailable("failed to initialize audio engine", err)
	}

	instance := &Instance{
		name:     name,
		backend:  backend,
		registry: newRegistry(backend, logger),
		listener: newNotificationListener(options.queueSize, logger),
		priority: options.priority,
		logger:   logger,
	}

	for _, flow := range []DataFlow{FlowCapture, FlowRender} {
		if err := instance.registry.enumerate(flow); err != nil {
			instance.teardown()
			return nil, err
		}
	}

	if err := backend.RegisterNotifications(instance.listener); err != nil {
		instance.teardown()
		return nil, unavailable("failed to register device notifications", err)
	}

	logger.Info("audio instance created",
		"driver", backend.Properties().DriverID,
		"devices", len(instance.registry.list()),
	)

	return instance, nil
}

// Name returns the name given at creation
func (i *Instance) Name() string {
	return i.name
}

func (i *Instance) checkAlive() error {
	if i.destroyed {
		return validationError("instance %q is destroyed", i.name)
	}
	return nil
}

// Properties reports the driver and its capabilities
func (i *Instance) Properties() (InstanceProperties, error) {
	if err := i.checkAlive(); err != nil {
		return InstanceProperties{}, err
	}

	props := i.backend.Properties()
	return InstanceProperties{
		DriverID:   props.DriverID,
		StreamMode: StreamModePolling,
		Sharing:    props.Sharing,
	}, nil
}

// EnumeratePhysicalDevices returns the ids of active devices
func (i *Instance) EnumeratePhysicalDevices() ([]PhysicalDeviceID, error) {
	if err := i.checkAlive(); err != nil {
		return nil, err
	}
	return i.registry.list(), nil
}

// DefaultPhysicalInputDevice returns the console default capture device.
// ok is false when the engine has none.
func (i *Instance) DefaultPhysicalInputDevice() (id PhysicalDeviceID, ok bool, err error) {
	if err := i.checkAlive(); err != nil {
		return "", false, err
	}
	return i.registry.defaultDevice(FlowCapture)
}

// DefaultPhysicalOutputDevice returns the console default render device.
// ok is false when the engine has none.
func (i *Instance) DefaultPhysicalOutputDevice() (id PhysicalDeviceID, ok bool, err error) {
	if err := i.checkAlive(); err != nil {
		return "", false, err
	}
	return i.registry.defaultDevice(FlowRender)
}

// PhysicalDeviceProperties returns the name and directions of a device
func (i *Instance) PhysicalDeviceProperties(id PhysicalDeviceID) (PhysicalDeviceProperties, error) {
	if err := i.checkAlive(); err != nil {
		return PhysicalDeviceProperties{}, err
	}
	return i.registry.properties(id)
}

// formatClient returns the registry client used for format queries
func (i *Instance) formatClient(id PhysicalDeviceID) (AudioClient, error) {
	device, ok := i.registry.get(id)
	if !ok {
		return nil, validationError("unknown physical device %q", id)
	}
	if device.client == nil {
		return nil, fmt.Errorf("physical device %q is %s: %w", id, device.state, ErrUnavailable)
	}
	return device.client, nil
}

// PhysicalDeviceSupportsFormat reports whether the engine accepts desc
// exactly under the given sharing mode. A closest-match offer counts as
// unsupported, as does any source format other than F32.
func (i *Instance) PhysicalDeviceSupportsFormat(id PhysicalDeviceID, sharing SharingMode, desc FrameDesc) (bool, error) {
	if err := i.checkAlive(); err != nil {
		return false, err
	}

	client, err := i.formatClient(id)
	if err != nil {
		return false, err
	}

	format, ok := EncodeFrameDesc(desc)
	if !ok {
		return false, nil
	}

	return isFormatSupported(client, sharing, format)
}

func isFormatSupported(client AudioClient, sharing SharingMode, format []byte) (bool, error) {
	closest, err := client.IsFormatSupported(mapSharingMode(sharing), format)
	if errors.Is(err, ErrUnsupportedFormat) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("failed to query format support", err)
	}
	return closest == nil, nil
}

// PhysicalDeviceMixFormat returns the format the engine mixes in for
// shared-mode streams on the device
func (i *Instance) PhysicalDeviceMixFormat(id PhysicalDeviceID) (FrameDesc, error) {
	if err := i.checkAlive(); err != nil {
		return FrameDesc{}, err
	}

	client, err := i.formatClient(id)
	if err != nil {
		return FrameDesc{}, err
	}

	data, err := client.GetMixFormat()
	if err != nil {
		return FrameDesc{}, unavailable("failed to read mix format", err)
	}
	return DecodeWaveFormat(data)
}

// CreateDevice opens a device for exactly one direction. Every request
// check runs before a native stream is opened.
func (i *Instance) CreateDevice(desc DeviceDesc, channels Channels, callback StreamCallback) (*Device, error) {
	if err := i.checkAlive(); err != nil {
		return nil, err
	}
	if callback == nil {
		return nil, validationError("stream callback is required")
	}

	var flow DataFlow
	var mask ChannelMask
	switch {
	case !channels.Input.IsEmpty() && !channels.Output.IsEmpty():
		return nil, validationError("duplex devices are not supported")
	case !channels.Input.IsEmpty():
		flow, mask = FlowCapture, channels.Input
	case !channels.Output.IsEmpty():
		flow, mask = FlowRender, channels.Output
	default:
		return nil, validationError("no input or output channels requested")
	}

	physical, ok := i.registry.get(desc.PhysicalDevice)
	if !ok {
		return nil, fmt.Errorf("physical device %q: %w", desc.PhysicalDevice, ErrNotFound)
	}
	if !physical.streams.Contains(flow.streamFlag()) {
		return nil, validationError("physical device %q has no %s stream", desc.PhysicalDevice, flow)
	}
	if !physical.state.IsActive() || physical.client == nil {
		return nil, fmt.Errorf("physical device %q is %s: %w", desc.PhysicalDevice, physical.state, ErrUnavailable)
	}

	frameDesc := FrameDesc{
		Format:     desc.SampleDesc.Format,
		Channels:   mask,
		SampleRate: desc.SampleDesc.SampleRate,
	}
	format, ok := EncodeFrameDesc(frameDesc)
	if !ok {
		return nil, validationError("unsupported frame format %s/%d channels/%d Hz",
			frameDesc.Format, frameDesc.NumChannels(), frameDesc.SampleRate)
	}

	if !i.backend.Properties().Sharing.Supports(desc.Sharing) {
		return nil, validationError("%s sharing is not supported by the driver", desc.Sharing)
	}

	supported, err := isFormatSupported(physical.client, desc.Sharing, format)
	if err != nil {
		return nil, err
	}
	if !supported {
		return nil, validationError("format %s/%d channels/%d Hz is not supported in %s mode",
			frameDesc.Format, frameDesc.NumChannels(), frameDesc.SampleRate, desc.Sharing)
	}

	return i.openDevice(desc, flow, frameDesc, format, physical, callback)
}

func (i *Instance) openDevice(desc DeviceDesc, flow DataFlow, frameDesc FrameDesc, format []byte, physical *physicalDevice, callback StreamCallback) (*Device, error) {
	client, err := physical.endpointFor(flow).Activate()
	if err != nil {
		return nil, unavailable("failed to activate endpoint", err)
	}

	fence := NewFence()
	device, err := i.bindDevice(desc, flow, frameDesc, format, client, fence, callback)
	if err != nil {
		if releaseErr := client.Release(); releaseErr != nil {
			i.logger.Warn("failed to release audio client", "device", desc.PhysicalDevice, "err", releaseErr)
		}
		fence.Close()
		return nil, err
	}

	i.logger.Info("device created",
		"device", desc.PhysicalDevice,
		"flow", flow,
		"sharing", desc.Sharing,
		"channels", frameDesc.NumChannels(),
		"sample_rate", frameDesc.SampleRate,
		"buffer_frames", device.Properties().BufferSize,
	)
	return device, nil
}

func (i *Instance) bindDevice(desc DeviceDesc, flow DataFlow, frameDesc FrameDesc, format []byte, client AudioClient, fence *Fence, callback StreamCallback) (*Device, error) {
	if err := client.Initialize(mapSharingMode(desc.Sharing), ClientFlagEventCallback, format); err != nil {
		return nil, unavailable("failed to initialize audio client", err)
	}
	if err := client.SetEventHandle(fence); err != nil {
		return nil, unavailable("failed to set event handle", err)
	}

	bufferSize, err := client.GetBufferSize()
	if err != nil {
		return nil, unavailable("failed to read buffer size", err)
	}

	var stream deviceStream
	switch flow {
	case FlowCapture:
		capture, err := client.CaptureClient()
		if err != nil {
			return nil, unavailable("failed to get capture client", err)
		}
		stream = inputStream{client: capture}
	case FlowRender:
		render, err := client.RenderClient()
		if err != nil {
			return nil, unavailable("failed to get render client", err)
		}
		stream = outputStream{client: render, bufferSize: bufferSize}
	}

	return &Device{
		id:       desc.PhysicalDevice,
		client:   client,
		fence:    fence,
		stream:   stream,
		callback: callback,
		view: &Stream{properties: StreamProperties{
			Channels:   frameDesc.Channels,
			SampleRate: frameDesc.SampleRate,
			BufferSize: Frames(bufferSize),
		}},
		logger: i.logger,
		state:  deviceCreated,
	}, nil
}

// CreateSession promotes the calling goroutine's thread for real-time work
// at the given sample rate. Close the Session on the same goroutine.
func (i *Instance) CreateSession(sampleRate int) (*Session, error) {
	if err := i.checkAlive(); err != nil {
		return nil, err
	}
	return newSession(i.priority, sampleRate, i.logger)
}

// PollEvents drains queued hot-plug events without blocking. Each event is
// applied to the registry before handler sees it. handler may be nil.
func (i *Instance) PollEvents(handler func(Event)) error {
	if err := i.checkAlive(); err != nil {
		return err
	}

	for {
		select {
		case event := <-i.listener.events:
			i.registry.apply(event)
			i.logger.Debug("device event", "kind", EventKind(event), "device", event.Device())
			if handler != nil {
				handler(event)
			}
		default:
			return nil
		}
	}
}

// Close stops listening, releases the registry and disconnects from the
// engine. Devices created from the Instance must be closed first.
func (i *Instance) Close() {
	if i.destroyed {
		return
	}

	if err := i.backend.UnregisterNotifications(i.listener); err != nil {
		i.logger.Warn("failed to unregister device notifications", "err", err)
	}
	i.teardown()
	i.logger.Info("audio instance closed")
}

func (i *Instance) teardown() {
	i.registry.close()
	if err := i.backend.Terminate(); err != nil {
		i.logger.Warn("failed to terminate audio engine", "err", err)
	}
	i.destroyed = true
}
