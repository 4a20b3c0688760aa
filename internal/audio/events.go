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
	"log/slog"
)

// Event is a hot-plug notification. The concrete types are EventAdded,
// EventRemoved, EventChanged and EventDefault.
type Event interface {
	// Device is the endpoint the event refers to
	Device() PhysicalDeviceID
	isEvent()
}

// EventAdded reports a new endpoint
type EventAdded struct {
	ID PhysicalDeviceID
}

// EventRemoved reports an endpoint that disappeared
type EventRemoved struct {
	ID PhysicalDeviceID
}

// EventChanged reports an endpoint state transition
type EventChanged struct {
	ID    PhysicalDeviceID
	State EndpointState
}

// EventDefault reports a new console default endpoint for a flow
type EventDefault struct {
	ID   PhysicalDeviceID
	Flow DataFlow
}

func (e EventAdded) Device() PhysicalDeviceID   { return e.ID }
func (e EventRemoved) Device() PhysicalDeviceID { return e.ID }
func (e EventChanged) Device() PhysicalDeviceID { return e.ID }
func (e EventDefault) Device() PhysicalDeviceID { return e.ID }

func (EventAdded) isEvent()   {}
func (EventRemoved) isEvent() {}
func (EventChanged) isEvent() {}
func (EventDefault) isEvent() {}

// EventKind returns a short name for the event type
func EventKind(e Event) string {
	switch e.(type) {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventChanged:
		return "changed"
	case EventDefault:
		return "default"
	default:
		return "unknown"
	}
}

// DefaultEventQueueSize is how many notifications may wait for PollEvents
const DefaultEventQueueSize = 64

// notificationListener is installed on the engine. It runs on engine
// threads, so it only enqueues immutable events and never touches
// Instance state.
type notificationListener struct {
	events chan Event
	logger *slog.Logger
}

func newNotificationListener(capacity int, logger *slog.Logger) *notificationListener {
	return &notificationListener{
		events: make(chan Event, capacity),
		logger: logger,
	}
}

func (l *notificationListener) enqueue(event Event) {
	select {
	case l.events <- event:
	default:
		l.logger.Warn("event queue full, dropping notification",
			"kind", EventKind(event),
			"device", event.Device(),
		)
	}
}

func (l *notificationListener) OnDeviceStateChanged(id string, state EndpointState) {
	l.enqueue(EventChanged{ID: PhysicalDeviceID(id), State: state})
}

func (l *notificationListener) OnDeviceAdded(id string) {
	l.enqueue(EventAdded{ID: PhysicalDeviceID(id)})
}

func (l *notificationListener) OnDeviceRemoved(id string) {
	l.enqueue(EventRemoved{ID: PhysicalDeviceID(id)})
}

func (l *notificationListener) OnDefaultDeviceChanged(flow DataFlow, role Role, id string) {
	// only the console role is reported
	if role != RoleConsole {
		return
	}
	l.enqueue(EventDefault{ID: PhysicalDeviceID(id), Flow: flow})
}
