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
)

// physicalDevice is one registry entry. An endpoint present in both the
// capture and render enumerations is a single entry with both flags.
type physicalDevice struct {
	endpoint Endpoint
	state    EndpointState
	streams  StreamFlags

	// flows holds the engine's per-direction view of the endpoint
	flows map[DataFlow]Endpoint

	// client is activated only while the endpoint is active and is used
	// for format queries, never for streaming
	client AudioClient
}

// registry maps endpoint ids to physical devices. It is mutated only during
// Instance construction and by events applied from PollEvents, both on the
// thread that owns the Instance.
type registry struct {
	backend AudioBackend
	devices map[PhysicalDeviceID]*physicalDevice
	order   []PhysicalDeviceID
	logger  *slog.Logger
}

func newRegistry(backend AudioBackend, logger *slog.Logger) *registry {
	return &registry{
		backend: backend,
		devices: make(map[PhysicalDeviceID]*physicalDevice),
		logger:  logger,
	}
}

// enumerate merges every endpoint of one flow into the registry
func (r *registry) enumerate(flow DataFlow) error {
	endpoints, err := r.backend.EnumerateEndpoints(flow, StateMaskAll)
	if err != nil {
		return unavailable(fmt.Sprintf("failed to enumerate %s endpoints", flow), err)
	}

	for _, endpoint := range endpoints {
		r.merge(endpoint, flow.streamFlag())
	}
	return nil
}

// merge ORs the flag into an existing entry or inserts a new one
func (r *registry) merge(endpoint Endpoint, flag StreamFlags) {
	id := PhysicalDeviceID(endpoint.ID())

	if device, exists := r.devices[id]; exists {
		device.streams |= flag
		device.flows[endpoint.Flow()] = endpoint
		return
	}

	device := &physicalDevice{
		endpoint: endpoint,
		state:    endpoint.State(),
		streams:  flag,
		flows:    map[DataFlow]Endpoint{endpoint.Flow(): endpoint},
	}

	// activating an unavailable endpoint is invalid
	if device.state.IsActive() {
		r.activate(id, device)
	}

	r.devices[id] = device
	r.order = append(r.order, id)
}

// endpointFor returns the endpoint to open for flow
func (d *physicalDevice) endpointFor(flow DataFlow) Endpoint {
	if endpoint, ok := d.flows[flow]; ok {
		return endpoint
	}
	return d.endpoint
}

func (r *registry) activate(id PhysicalDeviceID, device *physicalDevice) {
	client, err := device.endpoint.Activate()
	if err != nil {
		r.logger.Warn("failed to activate endpoint", "device", id, "err", err)
		return
	}
	device.client = client
}

func (r *registry) releaseClient(id PhysicalDeviceID, device *physicalDevice) {
	if device.client == nil {
		return
	}
	if err := device.client.Release(); err != nil {
		r.logger.Warn("failed to release audio client", "device", id, "err", err)
	}
	device.client = nil
}

// list returns the active devices in insertion order
func (r *registry) list() []PhysicalDeviceID {
	ids := make([]PhysicalDeviceID, 0, len(r.order))
	for _, id := range r.order {
		if r.devices[id].state.IsActive() {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *registry) get(id PhysicalDeviceID) (*physicalDevice, bool) {
	device, ok := r.devices[id]
	return device, ok
}

// defaultDevice resolves the engine's default endpoint of a flow to a
// registry entry. ok is false when the engine has no default.
func (r *registry) defaultDevice(flow DataFlow) (PhysicalDeviceID, bool, error) {
	endpoint, err := r.backend.DefaultEndpoint(flow)
	if err != nil {
		return "", false, unavailable(fmt.Sprintf("failed to query default %s endpoint", flow), err)
	}
	if endpoint == nil {
		return "", false, nil
	}

	id := PhysicalDeviceID(endpoint.ID())
	if _, exists := r.devices[id]; !exists {
		return "", false, fmt.Errorf("default %s endpoint %q: %w", flow, id, ErrNotFound)
	}
	return id, true, nil
}

// properties returns the static description of a device
func (r *registry) properties(id PhysicalDeviceID) (PhysicalDeviceProperties, error) {
	device, ok := r.devices[id]
	if !ok {
		return PhysicalDeviceProperties{}, validationError("unknown physical device %q", id)
	}

	name, err := device.endpoint.FriendlyName()
	if err != nil {
		return PhysicalDeviceProperties{}, unavailable("failed to read device name", err)
	}

	return PhysicalDeviceProperties{
		DeviceName: name,
		Streams:    device.streams,
	}, nil
}

// apply folds one hot-plug event into the registry
func (r *registry) apply(event Event) {
	switch e := event.(type) {
	case EventAdded:
		r.added(e.ID)

	case EventRemoved:
		device, exists := r.devices[e.ID]
		if !exists {
			return
		}
		r.releaseClient(e.ID, device)
		delete(r.devices, e.ID)
		for i, id := range r.order {
			if id == e.ID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}

	case EventChanged:
		device, exists := r.devices[e.ID]
		if !exists {
			return
		}
		r.setState(e.ID, device, e.State)

	case EventDefault:
		// defaults are resolved on demand
	}
}

// added merges every flow the engine reports for a hot-added endpoint and
// refreshes the state of an entry that was already known
func (r *registry) added(id PhysicalDeviceID) {
	var found Endpoint
	for _, flow := range []DataFlow{FlowCapture, FlowRender} {
		endpoints, err := r.backend.EnumerateEndpoints(flow, StateMaskAll)
		if err != nil {
			r.logger.Warn("failed to enumerate endpoints for added device", "device", id, "flow", flow, "err", err)
			continue
		}
		for _, endpoint := range endpoints {
			if PhysicalDeviceID(endpoint.ID()) == id {
				r.merge(endpoint, flow.streamFlag())
				found = endpoint
			}
		}
	}

	if found == nil {
		endpoint, err := r.backend.Endpoint(string(id))
		if err != nil {
			r.logger.Warn("added endpoint could not be resolved", "device", id, "err", err)
			return
		}
		r.merge(endpoint, endpoint.Flow().streamFlag())
		found = endpoint
	}

	r.setState(id, r.devices[id], found.State())
}

// setState records a state transition. The client is activated on entering
// Active and released on leaving it.
func (r *registry) setState(id PhysicalDeviceID, device *physicalDevice, state EndpointState) {
	device.state = state
	switch {
	case state.IsActive() && device.client == nil:
		r.activate(id, device)
	case !state.IsActive():
		r.releaseClient(id, device)
	}
}

// close releases every activated client
func (r *registry) close() {
	for _, id := range r.order {
		r.releaseClient(id, r.devices[id])
	}
}
