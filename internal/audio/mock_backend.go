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
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockEndpointConfig describes a simulated endpoint. Zero fields take
// defaults: an active stereo F32 48 kHz output named "Mock Device" with a
// 480 frame buffer.
type MockEndpointConfig struct {
	// ID is generated when empty
	ID           string
	Name         string
	Streams      StreamFlags
	State        EndpointState
	Formats      []FrameDesc
	MixFormat    FrameDesc
	BufferFrames uint32
}

type mockEndpointData struct {
	id           string
	name         string
	streams      StreamFlags
	state        EndpointState
	formats      []FrameDesc
	mixFormat    FrameDesc
	bufferFrames uint32
}

func (d *mockEndpointData) supports(desc FrameDesc) bool {
	for _, f := range d.formats {
		if f == desc {
			return true
		}
	}
	return false
}

// MockAudioBackend implements AudioBackend for testing without hardware
// dependencies. Time only advances through Tick or Run.
type MockAudioBackend struct {
	mu          sync.Mutex
	initialized bool
	sharing     SharingModeFlags
	endpoints   map[string]*mockEndpointData
	order       []string
	defaults    map[DataFlow]string
	listeners   []NotificationClient
	clients     []*MockAudioClient
	generator   func(dst []float32, channels int)
	played      []float32

	initError       error
	terminateError  error
	enumerateError  error
	activateError   error
	clientInitError error
	startError      error
	releaseError    error
	registerError   error
	defaultError    error
}

// NewMockAudioBackend creates a simulated engine with the given endpoints.
// The first endpoint of each direction becomes its default.
func NewMockAudioBackend(endpoints ...MockEndpointConfig) *MockAudioBackend {
	m := &MockAudioBackend{
		sharing:   SharingFlagConcurrent | SharingFlagExclusive,
		endpoints: make(map[string]*mockEndpointData),
		defaults:  make(map[DataFlow]string),
	}
	for _, cfg := range endpoints {
		data := m.addEndpointLocked(cfg)
		for _, flow := range []DataFlow{FlowCapture, FlowRender} {
			if _, ok := m.defaults[flow]; !ok && data.streams.Contains(flow.streamFlag()) {
				m.defaults[flow] = data.id
			}
		}
	}
	return m
}

func (m *MockAudioBackend) addEndpointLocked(cfg MockEndpointConfig) *mockEndpointData {
	data := &mockEndpointData{
		id:           cfg.ID,
		name:         cfg.Name,
		streams:      cfg.Streams,
		state:        cfg.State,
		formats:      cfg.Formats,
		mixFormat:    cfg.MixFormat,
		bufferFrames: cfg.BufferFrames,
	}
	if data.id == "" {
		data.id = uuid.NewString()
	}
	if data.name == "" {
		data.name = "Mock Device"
	}
	if data.streams == 0 {
		data.streams = StreamOutput
	}
	if data.state == 0 {
		data.state = StateActive
	}
	if len(data.formats) == 0 {
		data.formats = []FrameDesc{{Format: FormatF32, Channels: ChannelsStereo, SampleRate: 48000}}
	}
	if data.mixFormat == (FrameDesc{}) {
		data.mixFormat = data.formats[0]
	}
	if data.bufferFrames == 0 {
		data.bufferFrames = 480
	}

	if _, exists := m.endpoints[data.id]; !exists {
		m.order = append(m.order, data.id)
	}
	m.endpoints[data.id] = data
	return data
}

// SetSharingModes limits the sharing modes the engine offers
func (m *MockAudioBackend) SetSharingModes(flags SharingModeFlags) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sharing = flags
}

// SetInitError configures the backend to return an error on Initialize()
func (m *MockAudioBackend) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initError = err
}

// SetTerminateError configures the backend to return an error on Terminate()
func (m *MockAudioBackend) SetTerminateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminateError = err
}

// SetEnumerateError configures the backend to fail endpoint enumeration
func (m *MockAudioBackend) SetEnumerateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enumerateError = err
}

// SetActivateError configures endpoints to fail Activate()
func (m *MockAudioBackend) SetActivateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activateError = err
}

// SetClientInitError configures audio clients to fail Initialize()
func (m *MockAudioBackend) SetClientInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clientInitError = err
}

// SetStartError configures audio clients to fail Start()
func (m *MockAudioBackend) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startError = err
}

// SetReleaseError configures audio clients to fail Release()
func (m *MockAudioBackend) SetReleaseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseError = err
}

// SetRegisterError configures the backend to fail RegisterNotifications()
func (m *MockAudioBackend) SetRegisterError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerError = err
}

// SetDefaultError configures the backend to fail DefaultEndpoint()
func (m *MockAudioBackend) SetDefaultError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultError = err
}

// SetAudioDataGenerator sets the function that produces captured samples.
// The default is a 440 Hz sine at 0.1 amplitude.
func (m *MockAudioBackend) SetAudioDataGenerator(generator func(dst []float32, channels int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generator = generator
}

// maxPlayedSamples bounds the playback history, about a minute of 48 kHz stereo
const maxPlayedSamples = 48000 * 2 * 60

// GetPlaybackAudioData returns the most recent samples consumed from render
// clients
func (m *MockAudioBackend) GetPlaybackAudioData() []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]float32, len(m.played))
	copy(result, m.played)
	return result
}

// ActiveClients returns the number of activated, unreleased audio clients
func (m *MockAudioBackend) ActiveClients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// AddEndpoint plugs in a new endpoint and notifies listeners
func (m *MockAudioBackend) AddEndpoint(cfg MockEndpointConfig) string {
	m.mu.Lock()
	data := m.addEndpointLocked(cfg)
	listeners := m.listenersLocked()
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnDeviceAdded(data.id)
	}
	return data.id
}

// RemoveEndpoint unplugs an endpoint and notifies listeners
func (m *MockAudioBackend) RemoveEndpoint(id string) {
	m.mu.Lock()
	delete(m.endpoints, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	for flow, def := range m.defaults {
		if def == id {
			delete(m.defaults, flow)
		}
	}
	listeners := m.listenersLocked()
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnDeviceRemoved(id)
	}
}

// SetEndpointState changes an endpoint's state and notifies listeners
func (m *MockAudioBackend) SetEndpointState(id string, state EndpointState) {
	m.mu.Lock()
	if data, ok := m.endpoints[id]; ok {
		data.state = state
	}
	listeners := m.listenersLocked()
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnDeviceStateChanged(id, state)
	}
}

// SetDefaultEndpoint changes the default endpoint of a flow for every role.
// The id does not have to be known to the engine.
func (m *MockAudioBackend) SetDefaultEndpoint(flow DataFlow, id string) {
	m.mu.Lock()
	m.defaults[flow] = id
	listeners := m.listenersLocked()
	m.mu.Unlock()

	for _, l := range listeners {
		for _, role := range []Role{RoleConsole, RoleMultimedia, RoleCommunications} {
			l.OnDefaultDeviceChanged(flow, role, id)
		}
	}
}

func (m *MockAudioBackend) listenersLocked() []NotificationClient {
	listeners := make([]NotificationClient, len(m.listeners))
	copy(listeners, m.listeners)
	return listeners
}

// Initialize initializes the mock audio subsystem
func (m *MockAudioBackend) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initError != nil {
		return m.initError
	}
	if m.initialized {
		return fmt.Errorf("mock audio backend already initialized")
	}

	m.initialized = true
	return nil
}

// Terminate terminates the mock audio subsystem
func (m *MockAudioBackend) Terminate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminateError != nil {
		return m.terminateError
	}

	m.initialized = false
	return nil
}

// Initialized reports whether Initialize succeeded and Terminate has not run
func (m *MockAudioBackend) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

func (m *MockAudioBackend) Properties() BackendProperties {
	m.mu.Lock()
	defer m.mu.Unlock()
	return BackendProperties{DriverID: DriverMock, Sharing: m.sharing}
}

func (m *MockAudioBackend) EnumerateEndpoints(flow DataFlow, mask EndpointState) ([]Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fmt.Errorf("mock audio backend not initialized")
	}
	if m.enumerateError != nil {
		return nil, m.enumerateError
	}

	var endpoints []Endpoint
	for _, id := range m.order {
		data := m.endpoints[id]
		if data.streams.Contains(flow.streamFlag()) && data.state&mask != 0 {
			endpoints = append(endpoints, &mockEndpoint{backend: m, id: id, flow: flow})
		}
	}
	return endpoints, nil
}

func (m *MockAudioBackend) Endpoint(id string) (Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("mock endpoint %q not found", id)
	}

	flow := FlowRender
	if !data.streams.Contains(StreamOutput) {
		flow = FlowCapture
	}
	return &mockEndpoint{backend: m, id: id, flow: flow}, nil
}

func (m *MockAudioBackend) DefaultEndpoint(flow DataFlow) (Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.defaultError != nil {
		return nil, m.defaultError
	}

	id, ok := m.defaults[flow]
	if !ok {
		return nil, nil
	}
	return &mockEndpoint{backend: m, id: id, flow: flow}, nil
}

func (m *MockAudioBackend) RegisterNotifications(client NotificationClient) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registerError != nil {
		return m.registerError
	}
	m.listeners = append(m.listeners, client)
	return nil
}

func (m *MockAudioBackend) UnregisterNotifications(client NotificationClient) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, l := range m.listeners {
		if l == client {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("notification client not registered")
}

// Tick advances simulated time by frames. Started render clients consume
// up to frames of queued audio, started capture clients produce frames of
// new audio, and every started client's fence is signalled.
func (m *MockAudioBackend) Tick(frames uint32) {
	m.advance(func(*MockAudioClient) uint32 { return frames })
}

// Run ticks the engine every period until ctx is done, advancing each
// client by the frames its sample rate produces in one period.
func (m *MockAudioBackend) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.advance(func(c *MockAudioClient) uint32 {
				return uint32(float64(c.sampleRate()) * period.Seconds())
			})
		}
	}
}

func (m *MockAudioBackend) advance(framesFor func(*MockAudioClient) uint32) {
	m.mu.Lock()
	clients := make([]*MockAudioClient, len(m.clients))
	copy(clients, m.clients)
	generator := m.generator
	m.mu.Unlock()

	for _, c := range clients {
		played := c.tick(framesFor(c), generator)
		if len(played) > 0 {
			m.mu.Lock()
			m.played = append(m.played, played...)
			if excess := len(m.played) - maxPlayedSamples; excess > 0 {
				m.played = append(m.played[:0], m.played[excess:]...)
			}
			m.mu.Unlock()
		}
	}
}

func (m *MockAudioBackend) removeClient(client *MockAudioClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.clients {
		if c == client {
			m.clients = append(m.clients[:i], m.clients[i+1:]...)
			return
		}
	}
}

// mockEndpoint is one endpoint seen through one flow
type mockEndpoint struct {
	backend *MockAudioBackend
	id      string
	flow    DataFlow
}

func (e *mockEndpoint) ID() string     { return e.id }
func (e *mockEndpoint) Flow() DataFlow { return e.flow }

func (e *mockEndpoint) State() EndpointState {
	e.backend.mu.Lock()
	defer e.backend.mu.Unlock()
	if data, ok := e.backend.endpoints[e.id]; ok {
		return data.state
	}
	return StateNotPresent
}

func (e *mockEndpoint) FriendlyName() (string, error) {
	e.backend.mu.Lock()
	defer e.backend.mu.Unlock()
	data, ok := e.backend.endpoints[e.id]
	if !ok {
		return "", fmt.Errorf("mock endpoint %q not found", e.id)
	}
	return data.name, nil
}

func (e *mockEndpoint) Activate() (AudioClient, error) {
	m := e.backend
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activateError != nil {
		return nil, m.activateError
	}
	data, ok := m.endpoints[e.id]
	if !ok {
		return nil, fmt.Errorf("mock endpoint %q not found", e.id)
	}
	if !data.state.IsActive() {
		return nil, fmt.Errorf("mock endpoint %q is %s", e.id, data.state)
	}

	snapshot := *data
	client := &MockAudioClient{backend: m, endpoint: &snapshot, flow: e.flow}
	m.clients = append(m.clients, client)
	return client, nil
}

// MockAudioClient is the simulated stream handle
type MockAudioClient struct {
	mu          sync.Mutex
	backend     *MockAudioBackend
	endpoint    *mockEndpointData
	flow        DataFlow
	initialized bool
	started     bool
	released    bool
	format      FrameDesc
	fence       *Fence
	exchange    *bufferExchange
	phase       float64
}

func (c *MockAudioClient) IsFormatSupported(mode ShareMode, format []byte) ([]byte, error) {
	desc, err := DecodeWaveFormat(format)
	if err != nil {
		return nil, ErrUnsupportedFormat
	}
	if c.endpoint.supports(desc) {
		return nil, nil
	}
	if mode == ShareModeShared {
		closest, ok := EncodeFrameDesc(c.endpoint.mixFormat)
		if ok {
			return closest, nil
		}
	}
	return nil, ErrUnsupportedFormat
}

func (c *MockAudioClient) Initialize(mode ShareMode, flags ClientFlags, format []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.backend.mu.Lock()
	initErr := c.backend.clientInitError
	c.backend.mu.Unlock()
	if initErr != nil {
		return initErr
	}

	if c.initialized {
		return fmt.Errorf("audio client already initialized")
	}
	desc, err := DecodeWaveFormat(format)
	if err != nil {
		return err
	}
	if !c.endpoint.supports(desc) {
		return ErrUnsupportedFormat
	}
	if flags&ClientFlagEventCallback == 0 {
		return fmt.Errorf("mock engine requires event callback mode")
	}

	align, err := blockAlign(format)
	if err != nil {
		return err
	}

	c.format = desc
	c.exchange = newBufferExchange(int(c.endpoint.bufferFrames), align)
	c.initialized = true
	return nil
}

func (c *MockAudioClient) SetEventHandle(fence *Fence) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return fmt.Errorf("audio client not initialized")
	}
	c.fence = fence
	return nil
}

func (c *MockAudioClient) GetBufferSize() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return 0, fmt.Errorf("audio client not initialized")
	}
	return c.endpoint.bufferFrames, nil
}

func (c *MockAudioClient) GetMixFormat() ([]byte, error) {
	format, ok := EncodeFrameDesc(c.endpoint.mixFormat)
	if !ok {
		return nil, fmt.Errorf("mix format %s cannot be encoded", c.endpoint.mixFormat.Format)
	}
	return format, nil
}

func (c *MockAudioClient) GetCurrentPadding() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return 0, fmt.Errorf("audio client not initialized")
	}
	return c.exchange.padding(), nil
}

func (c *MockAudioClient) CaptureClient() (CaptureClient, error) {
	if c.flow != FlowCapture {
		return nil, fmt.Errorf("render endpoint has no capture client")
	}
	return exchangeCapture{c.exchange}, nil
}

func (c *MockAudioClient) RenderClient() (RenderClient, error) {
	if c.flow != FlowRender {
		return nil, fmt.Errorf("capture endpoint has no render client")
	}
	return exchangeRender{c.exchange}, nil
}

func (c *MockAudioClient) Start() error {
	c.backend.mu.Lock()
	startErr := c.backend.startError
	c.backend.mu.Unlock()
	if startErr != nil {
		return startErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return fmt.Errorf("audio client not initialized")
	}
	if c.started {
		return fmt.Errorf("audio client already started")
	}
	c.started = true
	return nil
}

func (c *MockAudioClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
	return nil
}

func (c *MockAudioClient) Release() error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return fmt.Errorf("audio client already released")
	}
	c.released = true
	c.started = false
	c.mu.Unlock()

	c.backend.removeClient(c)

	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	return c.backend.releaseError
}

// Started reports whether the client is streaming
func (c *MockAudioClient) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *MockAudioClient) sampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format.SampleRate
}

// tick moves frames through the client and returns the samples played
func (c *MockAudioClient) tick(frames uint32, generator func([]float32, int)) []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || frames == 0 {
		return nil
	}

	channels := c.format.NumChannels()
	data := make([]byte, int(frames)*channels*4)
	var played []float32

	switch c.flow {
	case FlowRender:
		n := c.exchange.ring.Read(data)
		samples := bytesToFloat32(data[:n*channels*4])
		played = append(played, samples...)

	case FlowCapture:
		samples := bytesToFloat32(data)
		if generator != nil {
			generator(samples, channels)
		} else {
			c.sine(samples, channels)
		}
		c.exchange.ring.Write(data)
	}

	if c.fence != nil {
		c.fence.Signal()
	}
	return played
}

func (c *MockAudioClient) sine(dst []float32, channels int) {
	step := 2 * math.Pi * 440 / float64(c.format.SampleRate)
	for frame := 0; frame < len(dst)/channels; frame++ {
		value := float32(0.1 * math.Sin(c.phase))
		for ch := 0; ch < channels; ch++ {
			dst[frame*channels+ch] = value
		}
		c.phase += step
	}
	c.phase = math.Mod(c.phase, 2*math.Pi)
}
