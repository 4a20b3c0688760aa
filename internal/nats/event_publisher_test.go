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
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-audir/internal/audio"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

// MockEventConnection implements EventConnection for testing
type MockEventConnection struct {
	mu          sync.Mutex
	messages    []published
	subscribers map[string]nats.MsgHandler
	publishErr  error
	subErr      error
	closed      bool
}

func NewMockEventConnection() *MockEventConnection {
	return &MockEventConnection{
		subscribers: make(map[string]nats.MsgHandler),
	}
}

func (m *MockEventConnection) Publish(subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishErr != nil {
		return m.publishErr
	}
	m.messages = append(m.messages, published{subject: subject, data: data})
	return nil
}

func (m *MockEventConnection) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subErr != nil {
		return nil, m.subErr
	}
	m.subscribers[subject] = cb
	return &nats.Subscription{Subject: subject}, nil
}

func (m *MockEventConnection) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// Deliver simulates a message arriving on a subscribed subject
func (m *MockEventConnection) Deliver(pattern, subject string, data []byte) {
	m.mu.Lock()
	cb := m.subscribers[pattern]
	m.mu.Unlock()

	if cb != nil {
		cb(&nats.Msg{Subject: subject, Data: data})
	}
}

func (m *MockEventConnection) Messages() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.messages...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPublisher(conn EventConnection) *EventPublisher {
	p := NewEventPublisherWithConnection(conn, "audio.events", testLogger())
	p.now = func() time.Time {
		return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	}
	return p
}

func TestEventPublisher_Publish(t *testing.T) {
	tests := []struct {
		name    string
		event   audio.Event
		subject string
		want    EventMessage
	}{
		{
			name:    "added",
			event:   audio.EventAdded{ID: "usb-mic"},
			subject: "audio.events.added",
			want:    EventMessage{Kind: "added", Device: "usb-mic"},
		},
		{
			name:    "removed",
			event:   audio.EventRemoved{ID: "usb-mic"},
			subject: "audio.events.removed",
			want:    EventMessage{Kind: "removed", Device: "usb-mic"},
		},
		{
			name:    "changed carries state",
			event:   audio.EventChanged{ID: "hdmi", State: audio.StateUnplugged},
			subject: "audio.events.changed",
			want:    EventMessage{Kind: "changed", Device: "hdmi", State: audio.StateUnplugged.String()},
		},
		{
			name:    "default carries flow",
			event:   audio.EventDefault{ID: "speakers", Flow: audio.FlowRender},
			subject: "audio.events.default",
			want:    EventMessage{Kind: "default", Device: "speakers", Flow: audio.FlowRender.String()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := NewMockEventConnection()
			p := newTestPublisher(conn)

			require.NoError(t, p.Publish(tt.event))

			messages := conn.Messages()
			require.Len(t, messages, 1)
			assert.Equal(t, tt.subject, messages[0].subject)

			var got EventMessage
			require.NoError(t, json.Unmarshal(messages[0].data, &got))

			tt.want.Instance = p.Instance()
			tt.want.Timestamp = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventPublisher_OmitsEmptyFields(t *testing.T) {
	conn := NewMockEventConnection()
	p := newTestPublisher(conn)

	require.NoError(t, p.Publish(audio.EventAdded{ID: "x"}))

	data := string(conn.Messages()[0].data)
	assert.False(t, strings.Contains(data, `"state"`))
	assert.False(t, strings.Contains(data, `"flow"`))
}

func TestEventPublisher_PublishError(t *testing.T) {
	conn := NewMockEventConnection()
	conn.publishErr = errors.New("connection lost")
	p := newTestPublisher(conn)

	err := p.Publish(audio.EventRemoved{ID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audio.events.removed")
	assert.Contains(t, err.Error(), "connection lost")

	t.Run("handler swallows failures", func(t *testing.T) {
		assert.NotPanics(t, func() {
			p.Handler()(audio.EventRemoved{ID: "x"})
		})
	})
}

func TestEventPublisher_InstanceIsStable(t *testing.T) {
	conn := NewMockEventConnection()
	p := newTestPublisher(conn)
	other := newTestPublisher(conn)

	assert.NotEmpty(t, p.Instance())
	assert.NotEqual(t, p.Instance(), other.Instance())

	p.Handler()(audio.EventAdded{ID: "a"})
	p.Handler()(audio.EventAdded{ID: "b"})

	for _, msg := range conn.Messages() {
		var got EventMessage
		require.NoError(t, json.Unmarshal(msg.data, &got))
		assert.Equal(t, p.Instance(), got.Instance)
	}
}

func TestEventPublisher_Watch(t *testing.T) {
	conn := NewMockEventConnection()
	p := newTestPublisher(conn)

	var received []EventMessage
	require.NoError(t, p.Watch(func(msg EventMessage) {
		received = append(received, msg)
	}))

	payload, err := json.Marshal(EventMessage{Instance: "remote", Kind: "added", Device: "dock"})
	require.NoError(t, err)

	conn.Deliver("audio.events.>", "audio.events.added", payload)
	conn.Deliver("audio.events.>", "audio.events.added", []byte("not json"))

	require.Len(t, received, 1)
	assert.Equal(t, "remote", received[0].Instance)
	assert.Equal(t, "dock", received[0].Device)
}

func TestEventPublisher_WatchError(t *testing.T) {
	conn := NewMockEventConnection()
	conn.subErr = errors.New("permissions violation")
	p := newTestPublisher(conn)

	err := p.Watch(func(EventMessage) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audio.events.>")
}

func TestEventPublisher_Close(t *testing.T) {
	conn := NewMockEventConnection()
	p := newTestPublisher(conn)

	p.Close()
	assert.True(t, conn.closed)
}

func TestConnect_InvalidURL(t *testing.T) {
	attempts, delay := connectAttempts, connectDelay
	connectAttempts, connectDelay = 2, time.Millisecond
	defer func() { connectAttempts, connectDelay = attempts, delay }()

	_, err := Connect("nats://127.0.0.1:1", testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}
