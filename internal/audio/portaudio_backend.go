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
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudio gives no stable endpoint identity or hot-plug events. Endpoint
// ids are "<host api>/<device name>", suffixed with "#n" on collisions, and
// every listed device is reported active.

const (
	// portAudioPeriodsPerSecond sets the blocking I/O period to 10ms
	portAudioPeriodsPerSecond = 100
	// portAudioPeriods is the number of periods the exchange ring holds
	portAudioPeriods = 4
)

// PortAudioBackend implements AudioBackend using the real PortAudio library
type PortAudioBackend struct {
	mu          sync.Mutex
	initialized bool
}

// NewPortAudioBackend creates a new PortAudio backend
func NewPortAudioBackend() *PortAudioBackend {
	return &PortAudioBackend{}
}

// Initialize initializes the PortAudio subsystem
func (p *PortAudioBackend) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	p.initialized = true
	return nil
}

// Terminate terminates the PortAudio subsystem
func (p *PortAudioBackend) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil
	}

	err := portaudio.Terminate()
	p.initialized = false
	return err
}

func (p *PortAudioBackend) Properties() BackendProperties {
	return BackendProperties{DriverID: DriverPortAudio, Sharing: SharingFlagConcurrent}
}

// endpoints lists every PortAudio device with a stable-per-process id
func (p *PortAudioBackend) endpoints() ([]*portAudioEndpoint, error) {
	p.mu.Lock()
	initialized := p.initialized
	p.mu.Unlock()
	if !initialized {
		return nil, fmt.Errorf("PortAudio not initialized")
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	seen := make(map[string]int)
	endpoints := make([]*portAudioEndpoint, 0, len(devices))
	for _, info := range devices {
		hostAPI := "unknown"
		if info.HostApi != nil {
			hostAPI = info.HostApi.Name
		}

		id := hostAPI + "/" + info.Name
		seen[id]++
		if n := seen[id]; n > 1 {
			id = fmt.Sprintf("%s#%d", id, n)
		}

		endpoints = append(endpoints, &portAudioEndpoint{id: id, info: info})
	}
	return endpoints, nil
}

func (p *PortAudioBackend) EnumerateEndpoints(flow DataFlow, mask EndpointState) ([]Endpoint, error) {
	all, err := p.endpoints()
	if err != nil {
		return nil, err
	}
	if mask&StateActive == 0 {
		return nil, nil
	}

	var result []Endpoint
	for _, e := range all {
		if e.channels(flow) > 0 {
			result = append(result, e.withFlow(flow))
		}
	}
	return result, nil
}

func (p *PortAudioBackend) Endpoint(id string) (Endpoint, error) {
	all, err := p.endpoints()
	if err != nil {
		return nil, err
	}

	for _, e := range all {
		if e.id != id {
			continue
		}
		if e.channels(FlowRender) > 0 {
			return e.withFlow(FlowRender), nil
		}
		return e.withFlow(FlowCapture), nil
	}
	return nil, fmt.Errorf("PortAudio device %q not found", id)
}

func (p *PortAudioBackend) DefaultEndpoint(flow DataFlow) (Endpoint, error) {
	var info *portaudio.DeviceInfo
	var err error
	if flow == FlowCapture {
		info, err = portaudio.DefaultInputDevice()
	} else {
		info, err = portaudio.DefaultOutputDevice()
	}
	if err != nil || info == nil {
		// no default device
		return nil, nil
	}

	all, err := p.endpoints()
	if err != nil {
		return nil, err
	}
	for _, e := range all {
		if e.info.Index == info.Index {
			return e.withFlow(flow), nil
		}
	}
	return &portAudioEndpoint{id: info.Name, info: info, flow: flow}, nil
}

// RegisterNotifications accepts the listener; PortAudio never reports changes
func (p *PortAudioBackend) RegisterNotifications(NotificationClient) error {
	return nil
}

func (p *PortAudioBackend) UnregisterNotifications(NotificationClient) error {
	return nil
}

type portAudioEndpoint struct {
	id   string
	info *portaudio.DeviceInfo
	flow DataFlow
}

func (e *portAudioEndpoint) withFlow(flow DataFlow) *portAudioEndpoint {
	return &portAudioEndpoint{id: e.id, info: e.info, flow: flow}
}

func (e *portAudioEndpoint) channels(flow DataFlow) int {
	if flow == FlowCapture {
		return e.info.MaxInputChannels
	}
	return e.info.MaxOutputChannels
}

func (e *portAudioEndpoint) ID() string                    { return e.id }
func (e *portAudioEndpoint) Flow() DataFlow                { return e.flow }
func (e *portAudioEndpoint) State() EndpointState          { return StateActive }
func (e *portAudioEndpoint) FriendlyName() (string, error) { return e.info.Name, nil }

func (e *portAudioEndpoint) Activate() (AudioClient, error) {
	return &PortAudioClient{info: e.info, flow: e.flow}, nil
}

// PortAudioClient drives a blocking PortAudio stream from a pump goroutine
// that moves one period at a time between the stream and the exchange ring
// and signals the fence after each period.
type PortAudioClient struct {
	mu       sync.Mutex
	info     *portaudio.DeviceInfo
	flow     DataFlow
	stream   *portaudio.Stream
	buffer   []float32
	period   int
	exchange *bufferExchange
	fence    *Fence
	stop     chan struct{}
	pumpDone sync.WaitGroup
	started  bool
}

func (c *PortAudioClient) parameters(desc FrameDesc, period int) portaudio.StreamParameters {
	device := portaudio.StreamDeviceParameters{
		Device:   c.info,
		Channels: desc.NumChannels(),
	}

	params := portaudio.StreamParameters{
		SampleRate:      float64(desc.SampleRate),
		FramesPerBuffer: period,
	}
	if c.flow == FlowCapture {
		device.Latency = c.info.DefaultLowInputLatency
		params.Input = device
	} else {
		device.Latency = c.info.DefaultLowOutputLatency
		params.Output = device
	}
	return params
}

func (c *PortAudioClient) IsFormatSupported(mode ShareMode, format []byte) ([]byte, error) {
	if mode == ShareModeExclusive {
		return nil, ErrUnsupportedFormat
	}

	desc, err := DecodeWaveFormat(format)
	if err != nil {
		return nil, ErrUnsupportedFormat
	}

	params := c.parameters(desc, portaudio.FramesPerBufferUnspecified)
	if err := portaudio.IsFormatSupported(params, []float32(nil)); err != nil {
		return nil, ErrUnsupportedFormat
	}
	return nil, nil
}

func (c *PortAudioClient) Initialize(mode ShareMode, flags ClientFlags, format []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return fmt.Errorf("PortAudio stream already open")
	}
	if mode == ShareModeExclusive {
		return ErrUnsupportedFormat
	}

	desc, err := DecodeWaveFormat(format)
	if err != nil {
		return err
	}
	align, err := blockAlign(format)
	if err != nil {
		return err
	}

	period := desc.SampleRate / portAudioPeriodsPerSecond
	buffer := make([]float32, period*desc.NumChannels())

	stream, err := portaudio.OpenStream(c.parameters(desc, period), buffer)
	if err != nil {
		return fmt.Errorf("failed to open %s stream: %w", c.flow, err)
	}

	c.stream = stream
	c.buffer = buffer
	c.period = period
	c.exchange = newBufferExchange(period*portAudioPeriods, align)
	return nil
}

func (c *PortAudioClient) SetEventHandle(fence *Fence) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fence = fence
	return nil
}

func (c *PortAudioClient) GetBufferSize() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exchange == nil {
		return 0, fmt.Errorf("PortAudio stream not open")
	}
	return uint32(c.exchange.ring.Capacity()), nil
}

// GetMixFormat reports the device default rate as float stereo, or mono
// for single-channel devices
func (c *PortAudioClient) GetMixFormat() ([]byte, error) {
	channels := ChannelsStereo
	if c.flow == FlowCapture && c.info.MaxInputChannels == 1 ||
		c.flow == FlowRender && c.info.MaxOutputChannels == 1 {
		channels = ChannelsMono
	}

	format, ok := EncodeFrameDesc(FrameDesc{
		Format:     FormatF32,
		Channels:   channels,
		SampleRate: int(c.info.DefaultSampleRate),
	})
	if !ok {
		return nil, fmt.Errorf("invalid default sample rate %v", c.info.DefaultSampleRate)
	}
	return format, nil
}

func (c *PortAudioClient) GetCurrentPadding() (uint32, error) {
	if c.exchange == nil {
		return 0, fmt.Errorf("PortAudio stream not open")
	}
	return c.exchange.padding(), nil
}

func (c *PortAudioClient) CaptureClient() (CaptureClient, error) {
	if c.flow != FlowCapture {
		return nil, fmt.Errorf("render stream has no capture client")
	}
	return exchangeCapture{c.exchange}, nil
}

func (c *PortAudioClient) RenderClient() (RenderClient, error) {
	if c.flow != FlowRender {
		return nil, fmt.Errorf("capture stream has no render client")
	}
	return exchangeRender{c.exchange}, nil
}

// Start starts the audio stream and its pump
func (c *PortAudioClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	if c.started {
		return nil
	}

	c.exchange.reset()
	if err := c.stream.Start(); err != nil {
		return err
	}

	c.stop = make(chan struct{})
	c.started = true
	c.pumpDone.Add(1)
	go c.pump(c.stop, c.fence)
	return nil
}

// Stop stops the pump and then the stream
func (c *PortAudioClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

func (c *PortAudioClient) stopLocked() error {
	if !c.started {
		return nil
	}

	close(c.stop)
	c.pumpDone.Wait()
	c.started = false
	return c.stream.Stop()
}

// Release closes the audio stream
func (c *PortAudioClient) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return nil
	}

	stopErr := c.stopLocked()
	closeErr := c.stream.Close()
	c.stream = nil
	return errors.Join(stopErr, closeErr)
}

func (c *PortAudioClient) pump(stop <-chan struct{}, fence *Fence) {
	defer c.pumpDone.Done()

	signal := func() {
		if fence != nil {
			fence.Signal()
		}
	}

	// the application fills the first period before anything is written
	if c.flow == FlowRender {
		signal()
	}

	raw := float32ToBytes(c.buffer)
	for {
		select {
		case <-stop:
			return
		default:
		}

		switch c.flow {
		case FlowRender:
			c.exchange.ring.Read(raw)
			if err := c.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
				return
			}
		case FlowCapture:
			if err := c.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
				return
			}
			c.exchange.ring.Write(raw)
		}
		signal()
	}
}
