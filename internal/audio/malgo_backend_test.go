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

func TestMalgoBackend(t *testing.T) {
	if isCIEnvironment() {
		t.Skip("Skipping malgo tests in CI environment")
	}

	t.Run("lifecycle", func(t *testing.T) {
		backend := NewMalgoBackend()
		if err := backend.Initialize(); err != nil {
			t.Skipf("malgo initialization failed (may be expected): %v", err)
		}
		assert.NoError(t, backend.Initialize(), "double initialization should be safe")
		assert.NoError(t, backend.Terminate())
		assert.NoError(t, backend.Terminate(), "terminate twice should be safe")
	})

	t.Run("properties", func(t *testing.T) {
		props := NewMalgoBackend().Properties()
		assert.Equal(t, DriverMalgo, props.DriverID)
		assert.True(t, props.Sharing.Supports(SharingConcurrent))
		assert.True(t, props.Sharing.Supports(SharingExclusive))
	})

	t.Run("stable_ids", func(t *testing.T) {
		backend := NewMalgoBackend()
		if err := backend.Initialize(); err != nil {
			t.Skipf("malgo initialization failed (may be expected): %v", err)
		}
		defer func() { _ = backend.Terminate() }() // Ignore errors during test cleanup

		first, err := backend.EnumerateEndpoints(FlowRender, StateMaskAll)
		require.NoError(t, err)
		second, err := backend.EnumerateEndpoints(FlowRender, StateMaskAll)
		require.NoError(t, err)
		require.Equal(t, len(first), len(second))

		for i := range first {
			assert.Equal(t, first[i].ID(), second[i].ID(), "ids survive re-enumeration")

			endpoint, err := backend.Endpoint(first[i].ID())
			require.NoError(t, err)
			assert.Equal(t, first[i].ID(), endpoint.ID())
		}
	})

	t.Run("without_initialization", func(t *testing.T) {
		_, err := NewMalgoBackend().EnumerateEndpoints(FlowCapture, StateMaskAll)
		assert.Error(t, err)
	})
}

func TestMalgoOutputDevice(t *testing.T) {
	if isCIEnvironment() {
		t.Skip("Skipping malgo tests in CI environment")
	}
	runEngineOutput(t, NewMalgoBackend())
}
