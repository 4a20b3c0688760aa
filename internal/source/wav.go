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
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DecodeWAV reads a whole PCM WAV stream
func DecodeWAV(r io.ReadSeeker) (*PCM, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		if err := decoder.Err(); err != nil {
			return nil, fmt.Errorf("invalid wav file: %w", err)
		}
		return nil, errors.New("invalid wav file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode wav: %w", err)
	}

	depth := int(decoder.BitDepth)
	if depth == 0 {
		depth = 16
	}
	scale := float32(int(1) << (depth - 1))

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}

	return &PCM{
		Samples:    samples,
		Channels:   int(decoder.NumChans),
		SampleRate: int(decoder.SampleRate),
	}, nil
}

// NewWAVSource decodes r and plays it once
func NewWAVSource(r io.ReadSeeker) (*PCMSource, error) {
	pcm, err := DecodeWAV(r)
	if err != nil {
		return nil, err
	}
	return NewPCMSource(pcm), nil
}

// WAVSink writes captured float frames as 16-bit PCM. The file is only
// valid after Close.
type WAVSink struct {
	encoder *wav.Encoder
	format  *goaudio.Format
	file    *os.File
	frames  int
}

// NewWAVSink encodes to w
func NewWAVSink(w io.WriteSeeker, sampleRate, channels int) *WAVSink {
	return &WAVSink{
		encoder: wav.NewEncoder(w, sampleRate, 16, channels, 1),
		format: &goaudio.Format{
			SampleRate:  sampleRate,
			NumChannels: channels,
		},
	}
}

// CreateWAVSink creates path and encodes to it
func CreateWAVSink(path string, sampleRate, channels int) (*WAVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	sink := NewWAVSink(f, sampleRate, channels)
	sink.file = f
	return sink, nil
}

// Write appends interleaved samples, clamped to [-1, 1]
func (s *WAVSink) Write(samples []float32) error {
	const maxInt16 = float32(math.MaxInt16)

	buf := &goaudio.IntBuffer{
		Format:         s.format,
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, sample := range samples {
		sample = max(-1, min(1, sample))
		buf.Data[i] = int(sample * maxInt16)
	}

	if err := s.encoder.Write(buf); err != nil {
		return fmt.Errorf("failed to write wav frames: %w", err)
	}
	s.frames += len(samples) / s.format.NumChannels
	return nil
}

// Frames returns how many frames were written
func (s *WAVSink) Frames() int {
	return s.frames
}

// Close finalises the header and closes the file when the sink owns it
func (s *WAVSink) Close() error {
	err := s.encoder.Close()
	if s.file != nil {
		err = errors.Join(err, s.file.Close())
	}
	return err
}
