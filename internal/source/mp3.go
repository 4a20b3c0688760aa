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

package source

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/hajimehoshi/go-mp3"
)

// mp3Channels is fixed by the decoder, which always emits 16-bit
// little-endian stereo
const mp3Channels = 2

// DecodeMP3 reads a whole MP3 stream
func DecodeMP3(r io.Reader) (*PCM, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mp3: %w", err)
	}

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("mp3 decode error: %w", err)
	}

	const maxInt16 = float32(math.MaxInt16)
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		sample16 := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		samples[i] = float32(sample16) / maxInt16
	}

	return &PCM{
		Samples:    samples,
		Channels:   mp3Channels,
		SampleRate: decoder.SampleRate(),
	}, nil
}

// NewMP3Source decodes r and plays it once
func NewMP3Source(r io.Reader) (*PCMSource, error) {
	pcm, err := DecodeMP3(r)
	if err != nil {
		return nil, err
	}
	return NewPCMSource(pcm), nil
}
