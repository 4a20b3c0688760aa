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
)

// Error kinds. Every error returned by this package wraps exactly one of
// these, so callers classify failures with errors.Is.
var (
	// ErrValidation reports a malformed or unsupported request
	ErrValidation = errors.New("validation failed")

	// ErrNotFound reports a device id that is not in the registry
	ErrNotFound = errors.New("device not found")

	// ErrTimeout reports that a buffer wait exceeded its deadline; retryable
	ErrTimeout = errors.New("timed out waiting for buffer")

	// ErrUnavailable reports a native engine failure
	ErrUnavailable = errors.New("audio engine unavailable")
)

// ErrUnsupportedFormat is returned by AudioClient.IsFormatSupported when the
// engine rejects a format and offers no alternative. The core reports it as
// an unsupported format, never as an engine failure.
var ErrUnsupportedFormat = errors.New("format not supported by engine")

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// unavailable wraps a native failure. Errors already classified by the
// engine keep their kind.
func unavailable(op string, err error) error {
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
