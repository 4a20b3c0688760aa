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

func newTestRegistry(t *testing.T, backend *MockAudioBackend) *registry {
	t.Helper()
	require.NoError(t, backend.Initialize())
	r := newRegistry(backend, discardLogger())
	t.Cleanup(r.close)
	return r
}

func TestRegistryMerge(t *testing.T) {
	tests := []struct {
		name    string
		streams StreamFlags
	}{
		{"input_only", StreamInput},
		{"output_only", StreamOutput},
		{"both", StreamInput | StreamOutput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := NewMockAudioBackend(MockEndpointConfig{ID: "dev", Streams: tt.streams})
			r := newTestRegistry(t, backend)

			require.NoError(t, r.enumerate(FlowCapture))
			require.NoError(t, r.enumerate(FlowRender))

			require.Len(t, r.devices, 1)
			device, ok := r.get("dev")
			require.True(t, ok)
			assert.Equal(t, tt.streams, device.streams, "flags are the OR of both passes")
			assert.NotNil(t, device.client)
			assert.Equal(t, 1, backend.ActiveClients(), "activated once")
		})
	}
}

func TestRegistryInactiveNotActivated(t *testing.T) {
	for _, state := range []EndpointState{StateDisabled, StateNotPresent, StateUnplugged} {
		t.Run(state.String(), func(t *testing.T) {
			backend := NewMockAudioBackend(MockEndpointConfig{ID: "dev", State: state})
			r := newTestRegistry(t, backend)

			require.NoError(t, r.enumerate(FlowRender))

			device, ok := r.get("dev")
			require.True(t, ok, "inactive endpoints are recorded")
			assert.Nil(t, device.client)
			assert.Empty(t, r.list())
			assert.Equal(t, 0, backend.ActiveClients())
		})
	}
}

func TestRegistryApply(t *testing.T) {
	backend := NewMockAudioBackend(MockEndpointConfig{ID: "dev", State: StateDisabled})
	r := newTestRegistry(t, backend)
	require.NoError(t, r.enumerate(FlowRender))

	t.Run("changed_to_active_activates", func(t *testing.T) {
		backend.SetEndpointState("dev", StateActive)
		r.apply(EventChanged{ID: "dev", State: StateActive})

		device, _ := r.get("dev")
		assert.NotNil(t, device.client)
		assert.Equal(t, []PhysicalDeviceID{"dev"}, r.list())
	})

	t.Run("changed_to_unplugged_releases", func(t *testing.T) {
		r.apply(EventChanged{ID: "dev", State: StateUnplugged})

		device, _ := r.get("dev")
		assert.Nil(t, device.client)
		assert.Equal(t, 0, backend.ActiveClients())
	})

	t.Run("added_merges", func(t *testing.T) {
		backend.AddEndpoint(MockEndpointConfig{ID: "mic", Streams: StreamInput})
		r.apply(EventAdded{ID: "mic"})

		props, err := r.properties("mic")
		require.NoError(t, err)
		assert.Equal(t, StreamInput, props.Streams)
	})

	t.Run("added_unknown_is_ignored", func(t *testing.T) {
		r.apply(EventAdded{ID: "ghost"})
		_, ok := r.get("ghost")
		assert.False(t, ok)
	})

	t.Run("added_duplex_records_both_streams", func(t *testing.T) {
		backend.AddEndpoint(MockEndpointConfig{ID: "headset", Streams: StreamInput | StreamOutput})
		r.apply(EventAdded{ID: "headset"})

		props, err := r.properties("headset")
		require.NoError(t, err)
		assert.Equal(t, StreamInput|StreamOutput, props.Streams)

		device, _ := r.get("headset")
		assert.NotNil(t, device.client)
	})

	t.Run("added_known_endpoint_refreshes_state", func(t *testing.T) {
		device, _ := r.get("dev")
		require.Equal(t, StateUnplugged, device.state)
		clients := backend.ActiveClients()

		backend.AddEndpoint(MockEndpointConfig{ID: "dev"})
		r.apply(EventAdded{ID: "dev"})

		assert.Equal(t, StateActive, device.state)
		assert.NotNil(t, device.client)
		assert.Contains(t, r.list(), PhysicalDeviceID("dev"))
		assert.Equal(t, clients+1, backend.ActiveClients())
		assert.Equal(t, 1, countID(r.order, "dev"), "no duplicate entry")
	})

	t.Run("removed_deletes", func(t *testing.T) {
		r.apply(EventRemoved{ID: "mic"})
		_, ok := r.get("mic")
		assert.False(t, ok)
		assert.NotContains(t, r.order, PhysicalDeviceID("mic"))
	})

	t.Run("default_is_noop", func(t *testing.T) {
		before := len(r.devices)
		r.apply(EventDefault{ID: "dev", Flow: FlowRender})
		assert.Len(t, r.devices, before)
	})
}

func countID(ids []PhysicalDeviceID, id PhysicalDeviceID) int {
	n := 0
	for _, existing := range ids {
		if existing == id {
			n++
		}
	}
	return n
}
