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

// Package source provides sample material for driving devices: a sine
// generator, decoded WAV and MP3 files and a WAV writer for captured audio.
package source

import "math"

// FrameSource fills interleaved float frames. ReadFrames writes at most
// len(dst)/channels frames and returns how many it wrote; zero means the
// source is exhausted. Sources are not restartable.
type FrameSource interface {
	ReadFrames(dst []float32, channels int) int
}

// SineSource is an endless sine tone written to every channel
type SineSource struct {
	amplitude float32
	step      float64
	cycle     float64
}

// NewSineSource returns a tone at frequency Hz for a stream at sampleRate
func NewSineSource(frequency float64, sampleRate int, amplitude float32) *SineSource {
	return &SineSource{
		amplitude: amplitude,
		step:      frequency / float64(sampleRate),
	}
}

func (s *SineSource) ReadFrames(dst []float32, channels int) int {
	if channels <= 0 {
		return 0
	}

	frames := len(dst) / channels
	for f := 0; f < frames; f++ {
		sample := float32(math.Sin(2*math.Pi*s.cycle)) * s.amplitude
		for c := 0; c < channels; c++ {
			dst[f*channels+c] = sample
		}
		s.cycle = math.Mod(s.cycle+s.step, 1)
	}
	return frames
}
