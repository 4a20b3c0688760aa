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
	"math/bits"
	"strings"
)

// PhysicalDeviceID is the stable identity the engine assigns to an endpoint
type PhysicalDeviceID string

// Format is a sample format
type Format int

const (
	FormatF32 Format = iota
	FormatI32
	FormatU32
	FormatI16
	FormatU16
	FormatI8
	FormatU8
)

func (f Format) String() string {
	switch f {
	case FormatF32:
		return "f32"
	case FormatI32:
		return "i32"
	case FormatU32:
		return "u32"
	case FormatI16:
		return "i16"
	case FormatU16:
		return "u16"
	case FormatI8:
		return "i8"
	case FormatU8:
		return "u8"
	default:
		return "unknown"
	}
}

// ChannelMask is a set of speaker positions
type ChannelMask uint32

const (
	ChannelFrontLeft ChannelMask = 1 << iota
	ChannelFrontRight
	ChannelFrontCenter
	ChannelLowFrequency
	ChannelBackLeft
	ChannelBackRight
	ChannelSideLeft
	ChannelSideRight
)

// ChannelsMono and ChannelsStereo are the common layouts
const (
	ChannelsMono   = ChannelFrontCenter
	ChannelsStereo = ChannelFrontLeft | ChannelFrontRight
)

var channelNames = []struct {
	mask ChannelMask
	name string
}{
	{ChannelFrontLeft, "FL"},
	{ChannelFrontRight, "FR"},
	{ChannelFrontCenter, "FC"},
	{ChannelLowFrequency, "LFE"},
	{ChannelBackLeft, "BL"},
	{ChannelBackRight, "BR"},
	{ChannelSideLeft, "SL"},
	{ChannelSideRight, "SR"},
}

// NumChannels returns the number of speaker positions in the mask
func (c ChannelMask) NumChannels() int {
	return bits.OnesCount32(uint32(c))
}

// IsEmpty reports whether no speaker position is set
func (c ChannelMask) IsEmpty() bool {
	return c == 0
}

// Contains reports whether every position in other is also in c
func (c ChannelMask) Contains(other ChannelMask) bool {
	return c&other == other
}

func (c ChannelMask) String() string {
	if c == 0 {
		return "none"
	}
	var names []string
	for _, ch := range channelNames {
		if c&ch.mask != 0 {
			names = append(names, ch.name)
		}
	}
	return strings.Join(names, "|")
}

// StreamFlags describes which directions an endpoint supports
type StreamFlags uint8

const (
	StreamInput StreamFlags = 1 << iota
	StreamOutput
)

// Contains reports whether every flag in other is set
func (s StreamFlags) Contains(other StreamFlags) bool {
	return s&other == other
}

func (s StreamFlags) String() string {
	switch s {
	case StreamInput:
		return "input"
	case StreamOutput:
		return "output"
	case StreamInput | StreamOutput:
		return "input|output"
	default:
		return "none"
	}
}

// SharingMode selects exclusive or shared access to the endpoint
type SharingMode int

const (
	SharingConcurrent SharingMode = iota
	SharingExclusive
)

func (s SharingMode) String() string {
	if s == SharingExclusive {
		return "exclusive"
	}
	return "concurrent"
}

// SharingModeFlags is the set of sharing modes a driver offers
type SharingModeFlags uint8

const (
	SharingFlagConcurrent SharingModeFlags = 1 << iota
	SharingFlagExclusive
)

// Supports reports whether mode is part of the set
func (s SharingModeFlags) Supports(mode SharingMode) bool {
	switch mode {
	case SharingExclusive:
		return s&SharingFlagExclusive != 0
	default:
		return s&SharingFlagConcurrent != 0
	}
}

// DriverID names the engine behind an Instance
type DriverID string

const (
	DriverMock      DriverID = "mock"
	DriverPortAudio DriverID = "portaudio"
	DriverMalgo     DriverID = "malgo"
)

// StreamMode tells the application how buffers are driven
type StreamMode int

const (
	// StreamModePolling requires the caller to drive Device.SubmitBuffers
	StreamModePolling StreamMode = iota
	// StreamModeCallback means the driver invokes the stream callback itself
	StreamModeCallback
)

func (m StreamMode) String() string {
	if m == StreamModeCallback {
		return "callback"
	}
	return "polling"
}

// Frames counts frames, one sample per channel
type Frames = int

// FrameDesc fully describes the layout of one frame
type FrameDesc struct {
	Format     Format
	Channels   ChannelMask
	SampleRate int
}

// NumChannels returns the channel count of the frame
func (f FrameDesc) NumChannels() int {
	return f.Channels.NumChannels()
}

// SampleDesc is a FrameDesc without channels, which are chosen per direction
type SampleDesc struct {
	Format     Format
	SampleRate int
}

// DeviceDesc selects the endpoint and access mode for CreateDevice
type DeviceDesc struct {
	PhysicalDevice PhysicalDeviceID
	Sharing        SharingMode
	SampleDesc     SampleDesc
}

// Channels requests input or output channels. Duplex is unsupported,
// so at most one of the two may be non-empty.
type Channels struct {
	Input  ChannelMask
	Output ChannelMask
}

// PhysicalDeviceProperties is the static description of an endpoint
type PhysicalDeviceProperties struct {
	DeviceName string
	Streams    StreamFlags
}

// InstanceProperties reports the capabilities of the driver
type InstanceProperties struct {
	DriverID   DriverID
	StreamMode StreamMode
	Sharing    SharingModeFlags
}
