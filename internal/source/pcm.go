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
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PCM is a fully decoded interleaved float sequence
type PCM struct {
	Samples    []float32
	Channels   int
	SampleRate int
}

// Frames returns the length of the sequence in frames
func (p *PCM) Frames() int {
	if p.Channels == 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// Open decodes a .wav or .mp3 file
func Open(path string) (*PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		return DecodeWAV(f)
	case ".mp3":
		return DecodeMP3(f)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s (supported: .wav, .mp3)", ext)
	}
}

// PCMSource plays a decoded sequence once, or forever when looping
type PCMSource struct {
	pcm  *PCM
	pos  int
	loop bool
}

// NewPCMSource plays pcm once
func NewPCMSource(pcm *PCM) *PCMSource {
	return &PCMSource{pcm: pcm}
}

// Looping replays pcm from the start each time it ends
func Looping(pcm *PCM) *PCMSource {
	return &PCMSource{pcm: pcm, loop: true}
}

// ReadFrames maps source channels onto the requested layout. A mono
// source is duplicated across every channel; extra source channels are
// dropped.
func (s *PCMSource) ReadFrames(dst []float32, channels int) int {
	total := s.pcm.Frames()
	if channels <= 0 || total == 0 {
		return 0
	}

	src := s.pcm.Channels
	frames := len(dst) / channels
	written := 0
	for written < frames {
		if s.pos == total {
			if !s.loop {
				break
			}
			s.pos = 0
		}

		frame := s.pcm.Samples[s.pos*src : (s.pos+1)*src]
		for c := 0; c < channels; c++ {
			dst[written*channels+c] = frame[c%src]
		}
		s.pos++
		written++
	}
	return written
}
