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
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var stereo48k = SampleDesc{Format: FormatF32, SampleRate: 48000}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePriority records promotions instead of touching the scheduler
type fakePriority struct {
	mu         sync.Mutex
	promoted   int
	demoted    int
	promoteErr error
}

func (f *fakePriority) Promote(sampleRate int) (PriorityHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.promoteErr != nil {
		return PriorityHandle{}, f.promoteErr
	}
	f.promoted++
	return PriorityHandle{SampleRate: sampleRate}, nil
}

func (f *fakePriority) Demote(PriorityHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.demoted++
	return nil
}

func newTestInstance(t *testing.T, backend *MockAudioBackend, opts ...Option) *Instance {
	t.Helper()

	opts = append([]Option{WithLogger(discardLogger()), WithThreadPriority(&fakePriority{})}, opts...)
	instance, err := NewInstance("test", backend, opts...)
	require.NoError(t, err, "should create instance on mock backend")
	t.Cleanup(instance.Close)
	return instance
}

func speakers() MockEndpointConfig {
	return MockEndpointConfig{ID: "speakers", Name: "Speakers", Streams: StreamOutput}
}

func microphone() MockEndpointConfig {
	return MockEndpointConfig{ID: "microphone", Name: "Microphone", Streams: StreamInput}
}

// isCIEnvironment detects if we're running in a CI environment
func isCIEnvironment() bool {
	ciEnvVars := []string{
		"CI", // Generic CI indicator
		"CONTINUOUS_INTEGRATION",
		"GITHUB_ACTIONS",   // GitHub Actions
		"GITLAB_CI",        // GitLab CI
		"JENKINS_URL",      // Jenkins
		"TRAVIS",           // Travis CI
		"CIRCLECI",         // CircleCI
		"BUILDKITE",        // Buildkite
		"TEAMCITY_VERSION", // TeamCity
	}

	for _, envVar := range ciEnvVars {
		if os.Getenv(envVar) != "" {
			return true
		}
	}
	return false
}
