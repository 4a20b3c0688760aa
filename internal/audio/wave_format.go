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
	"bytes"
	"encoding/binary"
	"fmt"
)

// Native format descriptor exchanged with the engine. The layout is the
// little-endian WAVEFORMATEXTENSIBLE structure.

const (
	WaveFormatTagPCM        uint16 = 0x0001
	WaveFormatTagIEEEFloat  uint16 = 0x0003
	WaveFormatTagExtensible uint16 = 0xFFFE

	// WaveFormatExSize is the size of the base WAVEFORMATEX header
	WaveFormatExSize = 18
	// WaveFormatExtensibleSize is the full descriptor size
	WaveFormatExtensibleSize = 40
	// waveFormatExtraSize is the cbSize of an extensible descriptor
	waveFormatExtraSize = WaveFormatExtensibleSize - WaveFormatExSize
)

// Speaker position bits of dwChannelMask
const (
	SpeakerFrontLeft    uint32 = 0x1
	SpeakerFrontRight   uint32 = 0x2
	SpeakerFrontCenter  uint32 = 0x4
	SpeakerLowFrequency uint32 = 0x8
	SpeakerBackLeft     uint32 = 0x10
	SpeakerBackRight    uint32 = 0x20
	SpeakerSideLeft     uint32 = 0x200
	SpeakerSideRight    uint32 = 0x400
)

// GUID is a 16-byte identifier in its Windows memory layout
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

var (
	// SubtypeIEEEFloat is KSDATAFORMAT_SUBTYPE_IEEE_FLOAT
	SubtypeIEEEFloat = GUID{0x00000003, 0x0000, 0x0010, [8]byte{0x80, 0x00, 0x00, 0xaa, 0x00, 0x38, 0x9b, 0x71}}
	// SubtypePCM is KSDATAFORMAT_SUBTYPE_PCM
	SubtypePCM = GUID{0x00000001, 0x0000, 0x0010, [8]byte{0x80, 0x00, 0x00, 0xaa, 0x00, 0x38, 0x9b, 0x71}}
)

var speakerMap = []struct {
	channel ChannelMask
	speaker uint32
}{
	{ChannelFrontLeft, SpeakerFrontLeft},
	{ChannelFrontRight, SpeakerFrontRight},
	{ChannelFrontCenter, SpeakerFrontCenter},
	{ChannelLowFrequency, SpeakerLowFrequency},
	{ChannelBackLeft, SpeakerBackLeft},
	{ChannelBackRight, SpeakerBackRight},
	{ChannelSideLeft, SpeakerSideLeft},
	{ChannelSideRight, SpeakerSideRight},
}

// WaveFormatEx is the base header shared by every descriptor
type WaveFormatEx struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	Size           uint16
}

// WaveFormatExtensible is the descriptor used for every stream we open
type WaveFormatExtensible struct {
	Format             WaveFormatEx
	ValidBitsPerSample uint16
	ChannelMask        uint32
	SubFormat          GUID
}

// MarshalBinary encodes the descriptor in little-endian layout
func (w *WaveFormatExtensible) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(WaveFormatExtensibleSize)

	if err := binary.Write(buf, binary.LittleEndian, w); err != nil {
		return nil, fmt.Errorf("failed to write wave format: %w", err)
	}

	return buf.Bytes(), nil
}

// UnmarshalBinary decodes an extensible descriptor
func (w *WaveFormatExtensible) UnmarshalBinary(data []byte) error {
	if len(data) < WaveFormatExSize {
		return validationError("wave format too small: %d bytes (min %d)", len(data), WaveFormatExSize)
	}

	var header WaveFormatEx
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return validationError("failed to read wave format header: %v", err)
	}

	if header.FormatTag != WaveFormatTagExtensible {
		return validationError("unrecognized wave format tag: 0x%04X", header.FormatTag)
	}

	if header.Size < waveFormatExtraSize || len(data) < WaveFormatExtensibleSize {
		return validationError("extensible wave format truncated: %d bytes (expected %d)", len(data), WaveFormatExtensibleSize)
	}

	if err := binary.Read(bytes.NewReader(data[:WaveFormatExtensibleSize]), binary.LittleEndian, w); err != nil {
		return validationError("failed to read wave format: %v", err)
	}

	return nil
}

// EncodeFrameDesc maps a frame description to native descriptor bytes.
// It returns false for source formats the engines cannot take; only 32-bit
// float is supported and nothing is converted.
func EncodeFrameDesc(desc FrameDesc) ([]byte, bool) {
	format, ok := mapFrameDesc(desc)
	if !ok {
		return nil, false
	}

	data, err := format.MarshalBinary()
	if err != nil {
		return nil, false
	}
	return data, true
}

func mapFrameDesc(desc FrameDesc) (*WaveFormatExtensible, bool) {
	var subFormat GUID
	var bytesPerSample int

	switch desc.Format {
	case FormatF32:
		subFormat = SubtypeIEEEFloat
		bytesPerSample = 4
	default:
		return nil, false
	}

	numChannels := desc.NumChannels()
	if numChannels == 0 || desc.SampleRate <= 0 {
		return nil, false
	}

	var channelMask uint32
	for _, s := range speakerMap {
		if desc.Channels&s.channel != 0 {
			channelMask |= s.speaker
		}
	}

	bitsPerSample := 8 * bytesPerSample

	return &WaveFormatExtensible{
		Format: WaveFormatEx{
			FormatTag:      WaveFormatTagExtensible,
			Channels:       uint16(numChannels),
			SamplesPerSec:  uint32(desc.SampleRate),
			AvgBytesPerSec: uint32(numChannels * desc.SampleRate * bytesPerSample),
			BlockAlign:     uint16(numChannels * bytesPerSample),
			BitsPerSample:  uint16(bitsPerSample),
			Size:           waveFormatExtraSize,
		},
		ValidBitsPerSample: uint16(bitsPerSample),
		ChannelMask:        channelMask,
		SubFormat:          subFormat,
	}, true
}

// DecodeWaveFormat maps native descriptor bytes back to a frame description
func DecodeWaveFormat(data []byte) (FrameDesc, error) {
	var format WaveFormatExtensible
	if err := format.UnmarshalBinary(data); err != nil {
		return FrameDesc{}, err
	}
	return mapWaveFormat(&format)
}

func mapWaveFormat(format *WaveFormatExtensible) (FrameDesc, error) {
	if format.SubFormat != SubtypeIEEEFloat || format.ValidBitsPerSample != 32 {
		return FrameDesc{}, validationError("unsupported wave subformat (%d valid bits)", format.ValidBitsPerSample)
	}

	var channels ChannelMask
	for _, s := range speakerMap {
		if format.ChannelMask&s.speaker != 0 {
			channels |= s.channel
		}
	}

	return FrameDesc{
		Format:     FormatF32,
		Channels:   channels,
		SampleRate: int(format.Format.SamplesPerSec),
	}, nil
}

// blockAlign returns the frame size in bytes of a descriptor
func blockAlign(data []byte) (int, error) {
	var format WaveFormatExtensible
	if err := format.UnmarshalBinary(data); err != nil {
		return 0, err
	}
	if format.Format.BlockAlign == 0 {
		return 0, validationError("wave format has zero block alignment")
	}
	return int(format.Format.BlockAlign), nil
}
