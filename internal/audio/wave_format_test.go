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
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrameDesc(t *testing.T) {
	t.Run("stereo_f32_layout", func(t *testing.T) {
		data, ok := EncodeFrameDesc(FrameDesc{Format: FormatF32, Channels: ChannelsStereo, SampleRate: 48000})
		require.True(t, ok)
		require.Len(t, data, WaveFormatExtensibleSize)

		le := binary.LittleEndian
		assert.Equal(t, WaveFormatTagExtensible, le.Uint16(data[0:]), "format tag")
		assert.Equal(t, uint16(2), le.Uint16(data[2:]), "channels")
		assert.Equal(t, uint32(48000), le.Uint32(data[4:]), "sample rate")
		assert.Equal(t, uint32(384000), le.Uint32(data[8:]), "byte rate")
		assert.Equal(t, uint16(8), le.Uint16(data[12:]), "block align")
		assert.Equal(t, uint16(32), le.Uint16(data[14:]), "bits per sample")
		assert.Equal(t, uint16(22), le.Uint16(data[16:]), "extra size")
		assert.Equal(t, uint16(32), le.Uint16(data[18:]), "valid bits")
		assert.Equal(t, SpeakerFrontLeft|SpeakerFrontRight, le.Uint32(data[20:]), "channel mask")
		assert.Equal(t, SubtypeIEEEFloat.Data1, le.Uint32(data[24:]), "subformat")
	})

	tests := []struct {
		name string
		desc FrameDesc
	}{
		{"u32", FrameDesc{Format: FormatU32, Channels: ChannelsStereo, SampleRate: 48000}},
		{"i16", FrameDesc{Format: FormatI16, Channels: ChannelsStereo, SampleRate: 48000}},
		{"no_channels", FrameDesc{Format: FormatF32, SampleRate: 48000}},
		{"zero_rate", FrameDesc{Format: FormatF32, Channels: ChannelsMono}},
	}
	for _, tt := range tests {
		t.Run("unsupported_"+tt.name, func(t *testing.T) {
			data, ok := EncodeFrameDesc(tt.desc)
			assert.False(t, ok)
			assert.Nil(t, data)
		})
	}
}

func TestFrameDescRoundTrip(t *testing.T) {
	surround51 := ChannelsStereo | ChannelFrontCenter | ChannelLowFrequency | ChannelBackLeft | ChannelBackRight
	descs := []FrameDesc{
		{Format: FormatF32, Channels: ChannelsStereo, SampleRate: 48000},
		{Format: FormatF32, Channels: ChannelsMono, SampleRate: 16000},
		{Format: FormatF32, Channels: surround51, SampleRate: 96000},
		{Format: FormatF32, Channels: ChannelsStereo | ChannelSideLeft | ChannelSideRight, SampleRate: 44100},
	}

	for _, desc := range descs {
		t.Run(desc.Channels.String(), func(t *testing.T) {
			data, ok := EncodeFrameDesc(desc)
			require.True(t, ok)

			decoded, err := DecodeWaveFormat(data)
			require.NoError(t, err)
			assert.Equal(t, desc, decoded)
		})
	}
}

func TestDecodeWaveFormat_Errors(t *testing.T) {
	valid, ok := EncodeFrameDesc(FrameDesc{Format: FormatF32, Channels: ChannelsStereo, SampleRate: 48000})
	require.True(t, ok)

	plainFloat := make([]byte, WaveFormatExSize)
	binary.LittleEndian.PutUint16(plainFloat, WaveFormatTagIEEEFloat)

	pcm := &WaveFormatExtensible{
		Format: WaveFormatEx{
			FormatTag:     WaveFormatTagExtensible,
			Channels:      2,
			SamplesPerSec: 48000,
			BlockAlign:    4,
			BitsPerSample: 16,
			Size:          22,
		},
		ValidBitsPerSample: 16,
		ChannelMask:        SpeakerFrontLeft | SpeakerFrontRight,
		SubFormat:          SubtypePCM,
	}
	pcmData, err := pcm.MarshalBinary()
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short_header", valid[:10]},
		{"truncated_extension", valid[:30]},
		{"not_extensible", plainFloat},
		{"pcm_subformat", pcmData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeWaveFormat(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestBlockAlign(t *testing.T) {
	data, ok := EncodeFrameDesc(FrameDesc{Format: FormatF32, Channels: ChannelsStereo | ChannelFrontCenter, SampleRate: 48000})
	require.True(t, ok)

	align, err := blockAlign(data)
	require.NoError(t, err)
	assert.Equal(t, 12, align)
}
