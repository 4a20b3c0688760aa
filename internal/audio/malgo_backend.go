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

	"github.com/gen2brain/malgo"
	"github.com/google/uuid"
)

// malgoNamespace derives endpoint ids from raw miniaudio device ids, which
// are opaque binary structures
var malgoNamespace = uuid.MustParse("5f3c1d2e-8a4b-4c6d-9e0f-a1b2c3d4e5f6")

const (
	malgoPeriodsPerSecond = 100
	malgoExchangePeriods  = 4
)

// MalgoBackend implements AudioBackend on miniaudio through malgo. It
// supports exclusive mode where the platform does and reports no hot-plug
// events.
type MalgoBackend struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewMalgoBackend creates a backend; the miniaudio context is created by
// Initialize
func NewMalgoBackend() *MalgoBackend {
	return &MalgoBackend{}
}

func (m *MalgoBackend) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx != nil {
		return nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	m.ctx = ctx
	return nil
}

func (m *MalgoBackend) Terminate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		return nil
	}

	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	return err
}

func (m *MalgoBackend) Properties() BackendProperties {
	return BackendProperties{
		DriverID: DriverMalgo,
		Sharing:  SharingFlagConcurrent | SharingFlagExclusive,
	}
}

func deviceType(flow DataFlow) malgo.DeviceType {
	if flow == FlowCapture {
		return malgo.Capture
	}
	return malgo.Playback
}

func (m *MalgoBackend) devices(flow DataFlow) ([]*malgoEndpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		return nil, fmt.Errorf("malgo context not initialized")
	}

	infos, err := m.ctx.Devices(deviceType(flow))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s devices: %w", flow, err)
	}

	endpoints := make([]*malgoEndpoint, 0, len(infos))
	for _, info := range infos {
		endpoints = append(endpoints, &malgoEndpoint{
			backend: m,
			id:      uuid.NewSHA1(malgoNamespace, info.ID[:]).String(),
			info:    info,
			flow:    flow,
		})
	}
	return endpoints, nil
}

func (m *MalgoBackend) EnumerateEndpoints(flow DataFlow, mask EndpointState) ([]Endpoint, error) {
	devices, err := m.devices(flow)
	if err != nil {
		return nil, err
	}
	if mask&StateActive == 0 {
		return nil, nil
	}

	result := make([]Endpoint, 0, len(devices))
	for _, d := range devices {
		result = append(result, d)
	}
	return result, nil
}

func (m *MalgoBackend) Endpoint(id string) (Endpoint, error) {
	for _, flow := range []DataFlow{FlowRender, FlowCapture} {
		devices, err := m.devices(flow)
		if err != nil {
			return nil, err
		}
		for _, d := range devices {
			if d.id == id {
				return d, nil
			}
		}
	}
	return nil, fmt.Errorf("malgo device %q not found", id)
}

func (m *MalgoBackend) DefaultEndpoint(flow DataFlow) (Endpoint, error) {
	devices, err := m.devices(flow)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.info.IsDefault != 0 {
			return d, nil
		}
	}
	return nil, nil
}

func (m *MalgoBackend) RegisterNotifications(NotificationClient) error {
	return nil
}

func (m *MalgoBackend) UnregisterNotifications(NotificationClient) error {
	return nil
}

func (m *MalgoBackend) context() (malgo.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ctx malgo.Context
	if m.ctx == nil {
		return ctx, fmt.Errorf("malgo context not initialized")
	}
	return m.ctx.Context, nil
}

type malgoEndpoint struct {
	backend *MalgoBackend
	id      string
	info    malgo.DeviceInfo
	flow    DataFlow
}

func (e *malgoEndpoint) ID() string                    { return e.id }
func (e *malgoEndpoint) Flow() DataFlow                { return e.flow }
func (e *malgoEndpoint) State() EndpointState          { return StateActive }
func (e *malgoEndpoint) FriendlyName() (string, error) { return e.info.Name(), nil }

func (e *malgoEndpoint) Activate() (AudioClient, error) {
	ctx, err := e.backend.context()
	if err != nil {
		return nil, err
	}
	return &MalgoClient{ctx: ctx, info: e.info, flow: e.flow}, nil
}

// MalgoClient is one miniaudio device. miniaudio's data callback moves
// audio between the device and the exchange ring and signals the fence.
type MalgoClient struct {
	mu       sync.Mutex
	ctx      malgo.Context
	info     malgo.DeviceInfo
	flow     DataFlow
	device   *malgo.Device
	exchange *bufferExchange
	fence    *Fence
}

func (c *MalgoClient) config(mode ShareMode, desc FrameDesc) malgo.DeviceConfig {
	config := malgo.DefaultDeviceConfig(deviceType(c.flow))
	config.SampleRate = uint32(desc.SampleRate)
	config.PeriodSizeInFrames = uint32(desc.SampleRate / malgoPeriodsPerSecond)
	config.Alsa.NoMMap = 1

	share := malgo.Shared
	if mode == ShareModeExclusive {
		share = malgo.Exclusive
	}

	sub := &config.Playback
	if c.flow == FlowCapture {
		sub = &config.Capture
	}
	sub.DeviceID = c.info.ID.Pointer()
	sub.Format = malgo.FormatF32
	sub.Channels = uint32(desc.NumChannels())
	sub.ShareMode = share
	return config
}

// IsFormatSupported opens and discards a device with the format
func (c *MalgoClient) IsFormatSupported(mode ShareMode, format []byte) ([]byte, error) {
	desc, err := DecodeWaveFormat(format)
	if err != nil {
		return nil, ErrUnsupportedFormat
	}

	device, err := malgo.InitDevice(c.ctx, c.config(mode, desc), malgo.DeviceCallbacks{})
	if err != nil {
		return nil, ErrUnsupportedFormat
	}
	device.Uninit()
	return nil, nil
}

func (c *MalgoClient) Initialize(mode ShareMode, flags ClientFlags, format []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		return fmt.Errorf("malgo device already initialized")
	}

	desc, err := DecodeWaveFormat(format)
	if err != nil {
		return err
	}
	align, err := blockAlign(format)
	if err != nil {
		return err
	}

	period := desc.SampleRate / malgoPeriodsPerSecond
	c.exchange = newBufferExchange(period*malgoExchangePeriods, align)

	callbacks := malgo.DeviceCallbacks{
		Data: c.onData,
	}

	device, err := malgo.InitDevice(c.ctx, c.config(mode, desc), callbacks)
	if err != nil {
		c.exchange = nil
		return fmt.Errorf("failed to initialize %s device: %w", c.flow, err)
	}
	c.device = device
	return nil
}

// onData runs on the miniaudio thread
func (c *MalgoClient) onData(output, input []byte, frames uint32) {
	switch c.flow {
	case FlowRender:
		c.exchange.ring.Read(output)
	case FlowCapture:
		c.exchange.ring.Write(input)
	}

	c.mu.Lock()
	fence := c.fence
	c.mu.Unlock()
	if fence != nil {
		fence.Signal()
	}
}

func (c *MalgoClient) SetEventHandle(fence *Fence) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fence = fence
	return nil
}

func (c *MalgoClient) GetBufferSize() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exchange == nil {
		return 0, fmt.Errorf("malgo device not initialized")
	}
	return uint32(c.exchange.ring.Capacity()), nil
}

// GetMixFormat reports what miniaudio converts to in shared mode: float
// stereo at 48 kHz
func (c *MalgoClient) GetMixFormat() ([]byte, error) {
	format, _ := EncodeFrameDesc(FrameDesc{Format: FormatF32, Channels: ChannelsStereo, SampleRate: 48000})
	return format, nil
}

func (c *MalgoClient) GetCurrentPadding() (uint32, error) {
	if c.exchange == nil {
		return 0, fmt.Errorf("malgo device not initialized")
	}
	return c.exchange.padding(), nil
}

func (c *MalgoClient) CaptureClient() (CaptureClient, error) {
	if c.flow != FlowCapture {
		return nil, fmt.Errorf("playback device has no capture client")
	}
	return exchangeCapture{c.exchange}, nil
}

func (c *MalgoClient) RenderClient() (RenderClient, error) {
	if c.flow != FlowRender {
		return nil, fmt.Errorf("capture device has no render client")
	}
	return exchangeRender{c.exchange}, nil
}

func (c *MalgoClient) Start() error {
	c.mu.Lock()
	device := c.device
	c.mu.Unlock()

	if device == nil {
		return fmt.Errorf("malgo device not initialized")
	}
	if device.IsStarted() {
		return nil
	}

	c.exchange.reset()
	if err := device.Start(); err != nil {
		return err
	}

	// prime a render stream so the first period can be filled
	if c.flow == FlowRender {
		c.mu.Lock()
		if c.fence != nil {
			c.fence.Signal()
		}
		c.mu.Unlock()
	}
	return nil
}

func (c *MalgoClient) Stop() error {
	c.mu.Lock()
	device := c.device
	c.mu.Unlock()

	if device == nil || !device.IsStarted() {
		return nil
	}
	return device.Stop()
}

func (c *MalgoClient) Release() error {
	c.mu.Lock()
	device := c.device
	c.device = nil
	c.mu.Unlock()

	if device == nil {
		return nil
	}

	var err error
	if device.IsStarted() {
		err = device.Stop()
	}
	device.Uninit()
	return err
}
