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

package nats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-audir/internal/audio"
	"github.com/nats-io/nats.go"
)

// Connection retry policy used by Connect
var (
	connectAttempts = 5
	connectDelay    = 2 * time.Second
)

// EventMessage is the JSON form of a hot-plug event
type EventMessage struct {
	Instance  string    `json:"instance"`        // Publisher identity, unique per process
	Kind      string    `json:"kind"`            // "added", "removed", "changed", "default"
	Device    string    `json:"device"`          // Physical device id
	State     string    `json:"state,omitempty"` // New endpoint state for "changed"
	Flow      string    `json:"flow,omitempty"`  // "capture" or "render" for "default"
	Timestamp time.Time `json:"timestamp"`
}

// EventConnection interface for dependency injection
type EventConnection interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

// EventConnectionAdapter adapts *nats.Conn to EventConnection interface
type EventConnectionAdapter struct {
	conn *nats.Conn
}

func NewEventConnectionAdapter(conn *nats.Conn) *EventConnectionAdapter {
	return &EventConnectionAdapter{conn: conn}
}

func (a *EventConnectionAdapter) Publish(subject string, data []byte) error {
	return a.conn.Publish(subject, data)
}

func (a *EventConnectionAdapter) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return a.conn.Subscribe(subject, cb)
}

func (a *EventConnectionAdapter) Close() {
	a.conn.Close()
}

// Connect dials NATS, retrying a few times before giving up
func Connect(natsURL string, logger *slog.Logger) (*nats.Conn, error) {
	var nc *nats.Conn
	var err error

	for i := 0; i < connectAttempts; i++ {
		nc, err = nats.Connect(natsURL, nats.Name("audir"))
		if err == nil {
			break
		}
		logger.Warn("failed to connect to NATS", "attempt", i+1, "of", connectAttempts, "err", err)
		if i < connectAttempts-1 {
			time.Sleep(connectDelay)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", connectAttempts, err)
	}

	logger.Info("connected to NATS", "url", natsURL)
	return nc, nil
}

// EventPublisher forwards polled hot-plug events to NATS subjects of the
// form <subject>.<kind>
type EventPublisher struct {
	conn     EventConnection
	subject  string
	instance string
	logger   *slog.Logger
	now      func() time.Time
}

// NewEventPublisher connects to natsURL and publishes under subject
func NewEventPublisher(natsURL, subject string, logger *slog.Logger) (*EventPublisher, error) {
	nc, err := Connect(natsURL, logger)
	if err != nil {
		return nil, err
	}
	return NewEventPublisherWithConnection(NewEventConnectionAdapter(nc), subject, logger), nil
}

// NewEventPublisherWithConnection creates a publisher over an existing connection (for testing)
func NewEventPublisherWithConnection(conn EventConnection, subject string, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{
		conn:     conn,
		subject:  subject,
		instance: uuid.NewString(),
		logger:   logger,
		now:      time.Now,
	}
}

// Instance returns the id stamped on every published message
func (p *EventPublisher) Instance() string {
	return p.instance
}

// NewEventMessage converts an event for the wire
func NewEventMessage(instance string, event audio.Event, at time.Time) EventMessage {
	msg := EventMessage{
		Instance:  instance,
		Kind:      audio.EventKind(event),
		Device:    string(event.Device()),
		Timestamp: at.UTC(),
	}

	switch e := event.(type) {
	case audio.EventChanged:
		msg.State = e.State.String()
	case audio.EventDefault:
		msg.Flow = e.Flow.String()
	}
	return msg
}

// Publish sends one event
func (p *EventPublisher) Publish(event audio.Event) error {
	msg := NewEventMessage(p.instance, event, p.now())

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := p.subject + "." + msg.Kind
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.logger.Debug("published device event", "subject", subject, "device", msg.Device)
	return nil
}

// Handler adapts Publish to Instance.PollEvents. Failures are logged.
func (p *EventPublisher) Handler() func(audio.Event) {
	return func(event audio.Event) {
		if err := p.Publish(event); err != nil {
			p.logger.Warn("failed to publish device event", "err", err)
		}
	}
}

// Watch subscribes to events from every publisher on the subject
func (p *EventPublisher) Watch(handler func(EventMessage)) error {
	wildcard := p.subject + ".>"
	_, err := p.conn.Subscribe(wildcard, func(msg *nats.Msg) {
		var event EventMessage
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			p.logger.Warn("failed to unmarshal device event", "subject", msg.Subject, "err", err)
			return
		}
		handler(event)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", wildcard, err)
	}

	p.logger.Info("watching device events", "subject", wildcard)
	return nil
}

// Close closes the NATS connection
func (p *EventPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
		p.logger.Info("NATS connection closed")
	}
}
