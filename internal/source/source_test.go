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
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSineSource(t *testing.T) {
	t.Run("same sample on every channel", func(t *testing.T) {
		s := NewSineSource(100, 48000, 0.5)
		dst := make([]float32, 64*2)

		n := s.ReadFrames(dst, 2)
		require.Equal(t, 64, n)
		for f := 0; f < n; f++ {
			assert.Equal(t, dst[f*2], dst[f*2+1])
		}
	})

	t.Run("starts at zero phase", func(t *testing.T) {
		s := NewSineSource(1000, 48000, 1)
		dst := make([]float32, 2)
		s.ReadFrames(dst, 1)

		assert.Equal(t, float32(0), dst[0])
		assert.InDelta(t, math.Sin(2*math.Pi*1000/48000), dst[1], 1e-6)
	})

	t.Run("bounded by amplitude", func(t *testing.T) {
		s := NewSineSource(440, 48000, 0.25)
		dst := make([]float32, 48000)
		s.ReadFrames(dst, 1)

		for _, v := range dst {
			assert.LessOrEqual(t, math.Abs(float64(v)), 0.25+1e-6)
		}
	})

	t.Run("phase continues across reads", func(t *testing.T) {
		whole := NewSineSource(440, 48000, 1)
		split := NewSineSource(440, 48000, 1)

		a := make([]float32, 200)
		whole.ReadFrames(a, 1)

		b := make([]float32, 200)
		split.ReadFrames(b[:70], 1)
		split.ReadFrames(b[70:], 1)

		assert.InDeltaSlice(t, a, b, 1e-6)
	})

	t.Run("partial frames are not written", func(t *testing.T) {
		s := NewSineSource(440, 48000, 1)
		assert.Equal(t, 2, s.ReadFrames(make([]float32, 5), 2))
		assert.Equal(t, 0, s.ReadFrames(make([]float32, 4), 0))
	})
}

func TestPCMSource(t *testing.T) {
	stereo := &PCM{
		Samples:    []float32{0.1, -0.1, 0.2, -0.2, 0.3, -0.3},
		Channels:   2,
		SampleRate: 48000,
	}

	t.Run("plays once", func(t *testing.T) {
		src := NewPCMSource(stereo)
		dst := make([]float32, 8)

		assert.Equal(t, 3, src.ReadFrames(dst, 2))
		assert.Equal(t, []float32{0.1, -0.1, 0.2, -0.2, 0.3, -0.3}, dst[:6])
		assert.Equal(t, 0, src.ReadFrames(dst, 2))
	})

	t.Run("looping wraps", func(t *testing.T) {
		src := Looping(stereo)
		dst := make([]float32, 10)

		assert.Equal(t, 5, src.ReadFrames(dst, 2))
		assert.Equal(t, []float32{0.1, -0.1, 0.2, -0.2, 0.3, -0.3, 0.1, -0.1, 0.2, -0.2}, dst)
		assert.Equal(t, 5, src.ReadFrames(dst, 2))
		assert.Equal(t, float32(0.3), dst[0])
	})

	t.Run("mono duplicated", func(t *testing.T) {
		mono := &PCM{Samples: []float32{0.5, 0.25}, Channels: 1, SampleRate: 48000}
		dst := make([]float32, 4)

		assert.Equal(t, 2, NewPCMSource(mono).ReadFrames(dst, 2))
		assert.Equal(t, []float32{0.5, 0.5, 0.25, 0.25}, dst)
	})

	t.Run("stereo folded to first channel", func(t *testing.T) {
		dst := make([]float32, 3)

		assert.Equal(t, 3, NewPCMSource(stereo).ReadFrames(dst, 1))
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, dst)
	})

	t.Run("empty looping source ends", func(t *testing.T) {
		empty := &PCM{Channels: 2, SampleRate: 48000}
		assert.Equal(t, 0, Looping(empty).ReadFrames(make([]float32, 4), 2))
	})
}

func TestWAVSinkAndSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.wav")

	sink, err := CreateWAVSink(path, 44100, 2)
	require.NoError(t, err)

	require.NoError(t, sink.Write([]float32{0, 0.5, -0.5, 1}))
	require.NoError(t, sink.Write([]float32{2, -2}))
	assert.Equal(t, 3, sink.Frames())
	require.NoError(t, sink.Close())

	pcm, err := Open(path)
	require.NoError(t, err)

	assert.Equal(t, 2, pcm.Channels)
	assert.Equal(t, 44100, pcm.SampleRate)
	require.Equal(t, 3, pcm.Frames())
	assert.InDeltaSlice(t, []float32{0, 0.5, -0.5, 1, 1, -1}, pcm.Samples, 1e-3)

	t.Run("as a source", func(t *testing.T) {
		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()

		src, err := NewWAVSource(f)
		require.NoError(t, err)

		dst := make([]float32, 8)
		assert.Equal(t, 3, src.ReadFrames(dst, 2))
	})
}

func TestDecodeWAV_Invalid(t *testing.T) {
	_, err := DecodeWAV(bytes.NewReader([]byte("RIFF____FAKE")))
	require.Error(t, err)
}

func TestDecodeMP3_Invalid(t *testing.T) {
	_, err := DecodeMP3(bytes.NewReader([]byte("not an mp3 stream")))
	require.Error(t, err)
}

func TestOpen(t *testing.T) {
	t.Run("unsupported extension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "track.ogg")
		require.NoError(t, os.WriteFile(path, []byte("OggS"), 0o644))

		_, err := Open(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported audio format")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "absent.wav"))
		require.Error(t, err)
	})
}
