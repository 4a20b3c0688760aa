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

// DataFlow is the direction of an endpoint as the engine sees it
type DataFlow int

const (
	FlowCapture DataFlow = iota
	FlowRender
)

func (f DataFlow) String() string {
	if f == FlowRender {
		return "render"
	}
	return "capture"
}

// streamFlag maps an engine flow to the capability flag it contributes
func (f DataFlow) streamFlag() StreamFlags {
	if f == FlowRender {
		return StreamOutput
	}
	return StreamInput
}

// Role is the purpose a default endpoint is registered for
type Role int

const (
	RoleConsole Role = iota
	RoleMultimedia
	RoleCommunications
)

// EndpointState is a bit set of endpoint states
type EndpointState uint32

const (
	StateActive     EndpointState = 0x1
	StateDisabled   EndpointState = 0x2
	StateNotPresent EndpointState = 0x4
	StateUnplugged  EndpointState = 0x8

	StateMaskAll = StateActive | StateDisabled | StateNotPresent | StateUnplugged
)

// IsActive reports whether the endpoint is currently usable
func (s EndpointState) IsActive() bool {
	return s&StateActive != 0
}

func (s EndpointState) String() string {
	switch {
	case s&StateActive != 0:
		return "active"
	case s&StateDisabled != 0:
		return "disabled"
	case s&StateNotPresent != 0:
		return "not-present"
	case s&StateUnplugged != 0:
		return "unplugged"
	default:
		return "unknown"
	}
}

// ShareMode is how the engine opens a stream
type ShareMode int

const (
	ShareModeShared ShareMode = iota
	ShareModeExclusive
)

func mapSharingMode(sharing SharingMode) ShareMode {
	if sharing == SharingExclusive {
		return ShareModeExclusive
	}
	return ShareModeShared
}

// ClientFlags configure AudioClient.Initialize
type ClientFlags uint32

const (
	// ClientFlagEventCallback asks the engine to signal the event handle
	// whenever a buffer becomes ready
	ClientFlagEventCallback ClientFlags = 0x00040000
)

// BufferFlags is the status the engine attaches to a buffer
type BufferFlags uint32

const (
	BufferFlagDataDiscontinuity BufferFlags = 0x1
	BufferFlagSilent            BufferFlags = 0x2
	BufferFlagTimestampError    BufferFlags = 0x4
)

// BackendProperties is the static capability report of an engine
type BackendProperties struct {
	DriverID DriverID
	Sharing  SharingModeFlags
}

// AudioBackend is the boundary to the OS audio engine. Implementations
// wrap a native engine or simulate one for tests.
type AudioBackend interface {
	// Initialize connects to the engine. Called once per Instance.
	Initialize() error

	// Terminate disconnects from the engine
	Terminate() error

	// Properties reports the driver identity and supported sharing modes
	Properties() BackendProperties

	// EnumerateEndpoints lists endpoints of one flow whose state is in mask
	EnumerateEndpoints(flow DataFlow, mask EndpointState) ([]Endpoint, error)

	// Endpoint resolves a single endpoint by id
	Endpoint(id string) (Endpoint, error)

	// DefaultEndpoint returns the console default of a flow, or nil if none
	DefaultEndpoint(flow DataFlow) (Endpoint, error)

	// RegisterNotifications installs a hot-plug listener. The engine calls
	// it from its own threads.
	RegisterNotifications(client NotificationClient) error

	// UnregisterNotifications removes a listener
	UnregisterNotifications(client NotificationClient) error
}

// Endpoint is one engine-level device in one flow
type Endpoint interface {
	ID() string
	Flow() DataFlow
	State() EndpointState
	FriendlyName() (string, error)

	// Activate opens an uninitialized audio client. Only valid for
	// active endpoints.
	Activate() (AudioClient, error)
}

// AudioClient is an opened stream handle. Format arguments and results are
// native descriptor bytes (see WaveFormatExtensible).
type AudioClient interface {
	// IsFormatSupported returns nil, nil when format is supported exactly.
	// A non-nil closest means the engine offers a different format instead;
	// ErrUnsupportedFormat means it offers nothing.
	IsFormatSupported(mode ShareMode, format []byte) (closest []byte, err error)
	Initialize(mode ShareMode, flags ClientFlags, format []byte) error
	SetEventHandle(fence *Fence) error
	GetBufferSize() (uint32, error)
	GetMixFormat() ([]byte, error)
	GetCurrentPadding() (uint32, error)
	CaptureClient() (CaptureClient, error)
	RenderClient() (RenderClient, error)
	Start() error
	Stop() error
	Release() error
}

// CaptureClient exchanges input buffers
type CaptureClient interface {
	GetNextPacketSize() (uint32, error)
	GetBuffer() (data []byte, frames uint32, flags BufferFlags, err error)
	ReleaseBuffer(frames uint32) error
}

// RenderClient exchanges output buffers
type RenderClient interface {
	GetBuffer(frames uint32) ([]byte, error)
	ReleaseBuffer(frames uint32, flags BufferFlags) error
}

// NotificationClient receives hot-plug notifications from the engine
type NotificationClient interface {
	OnDeviceStateChanged(id string, state EndpointState)
	OnDeviceAdded(id string)
	OnDeviceRemoved(id string)
	OnDefaultDeviceChanged(flow DataFlow, role Role, id string)
}
