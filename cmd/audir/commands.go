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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/loqalabs/loqa-audir/internal/audio"
	audionats "github.com/loqalabs/loqa-audir/internal/nats"
	"github.com/loqalabs/loqa-audir/internal/source"
)

type command func(ctx context.Context, e *engine, args []string, stdout, stderr io.Writer) error

var commands = map[string]command{
	"devices": runDevices,
	"monitor": runMonitor,
	"sine":    runSine,
	"play":    runPlay,
	"record":  runRecord,
}

// monitorInterval is how often hot-plug events are drained
const monitorInterval = 100 * time.Millisecond

func runDevices(_ context.Context, e *engine, _ []string, stdout, _ io.Writer) error {
	props, err := e.instance.Properties()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "driver: %s  mode: %s  sharing: %s\n\n", props.DriverID, props.StreamMode, sharingNames(props.Sharing))

	ids, err := e.instance.EnumeratePhysicalDevices()
	if err != nil {
		return err
	}

	defaultIn, _, errIn := e.instance.DefaultPhysicalInputDevice()
	defaultOut, _, errOut := e.instance.DefaultPhysicalOutputDevice()
	if err := errors.Join(errIn, errOut); err != nil {
		e.logger.Warn("failed to resolve default devices", "err", err)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTREAMS\tMIX FORMAT\tDEFAULT")
	for _, id := range ids {
		dp, err := e.instance.PhysicalDeviceProperties(id)
		if err != nil {
			e.logger.Warn("failed to read device properties", "device", id, "err", err)
			continue
		}

		mix := "-"
		if desc, err := e.instance.PhysicalDeviceMixFormat(id); err == nil {
			mix = fmt.Sprintf("%s %s %d Hz", desc.Format, desc.Channels, desc.SampleRate)
		}

		var roles []string
		if id == defaultIn {
			roles = append(roles, "input")
		}
		if id == defaultOut {
			roles = append(roles, "output")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", id, dp.DeviceName, dp.Streams, mix, strings.Join(roles, ","))
	}
	return tw.Flush()
}

func sharingNames(flags audio.SharingModeFlags) string {
	switch {
	case flags.Supports(audio.SharingConcurrent) && flags.Supports(audio.SharingExclusive):
		return "concurrent,exclusive"
	case flags.Supports(audio.SharingExclusive):
		return "exclusive"
	default:
		return "concurrent"
	}
}

func runMonitor(ctx context.Context, e *engine, _ []string, stdout, _ io.Writer) error {
	handlers := []func(audio.Event){
		func(event audio.Event) {
			e.logger.Info("device event", "kind", audio.EventKind(event), "device", event.Device())
			fmt.Fprintf(stdout, "%s %s\n", audio.EventKind(event), event.Device())
		},
	}

	if url := e.cfg.NATS.URL; url != "" {
		publisher, err := audionats.NewEventPublisher(url, e.cfg.NATS.Subject, e.logger)
		if err != nil {
			return err
		}
		defer publisher.Close()

		err = publisher.Watch(func(msg audionats.EventMessage) {
			if msg.Instance == publisher.Instance() {
				return
			}
			e.logger.Info("remote device event", "instance", msg.Instance, "kind", msg.Kind, "device", msg.Device)
		})
		if err != nil {
			return err
		}
		handlers = append(handlers, publisher.Handler())
	}

	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("monitor stopped")
			return nil
		case <-ticker.C:
			err := e.instance.PollEvents(func(event audio.Event) {
				for _, h := range handlers {
					h(event)
				}
			})
			if err != nil {
				return err
			}
		}
	}
}

// renderFrom fills every output buffer from src, padding with silence once
// it runs dry
func renderFrom(src source.FrameSource, exhausted *atomic.Bool) audio.StreamCallback {
	return func(stream *audio.Stream, buffers audio.StreamBuffers) {
		out := buffers.OutputF32()
		channels := stream.Properties().NumChannels()

		n := src.ReadFrames(out, channels)
		clear(out[n*channels:])
		if n < buffers.Frames {
			exhausted.Store(true)
		}
	}
}

// deadline reports true once seconds have passed; zero never expires
func deadline(seconds float64) func() bool {
	if seconds <= 0 {
		return func() bool { return false }
	}
	end := time.Now().Add(time.Duration(seconds * float64(time.Second)))
	return func() bool { return time.Now().After(end) }
}

func runSine(ctx context.Context, e *engine, args []string, _, stderr io.Writer) error {
	fs := flag.NewFlagSet("sine", flag.ContinueOnError)
	fs.SetOutput(stderr)
	freq := fs.Float64("freq", 100, "Tone frequency in Hz")
	amplitude := fs.Float64("amplitude", 0.5, "Peak amplitude")
	seconds := fs.Float64("seconds", 0, "Stop after this many seconds (0 runs until interrupted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rate := e.cfg.SampleRate
	var exhausted atomic.Bool
	tone := source.NewSineSource(*freq, rate, float32(*amplitude))

	device, err := e.openDevice(audio.StreamOutput, rate, renderFrom(tone, &exhausted))
	if err != nil {
		return err
	}
	defer device.Close()

	return e.drive(ctx, device, deadline(*seconds))
}

func runPlay(ctx context.Context, e *engine, args []string, _, stderr io.Writer) error {
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	fs.SetOutput(stderr)
	loop := fs.Bool("loop", false, "Replay the file until interrupted")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("play needs exactly one file")
	}

	pcm, err := source.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	e.logger.Info("loaded audio file",
		"file", fs.Arg(0),
		"sample_rate", pcm.SampleRate,
		"channels", pcm.Channels,
		"frames", pcm.Frames(),
	)

	var src source.FrameSource = source.NewPCMSource(pcm)
	if *loop {
		src = source.Looping(pcm)
	}

	// no resampling: the device runs at the file's rate
	var exhausted atomic.Bool
	device, err := e.openDevice(audio.StreamOutput, pcm.SampleRate, renderFrom(src, &exhausted))
	if err != nil {
		return err
	}
	defer device.Close()

	return e.drive(ctx, device, exhausted.Load)
}

func runRecord(ctx context.Context, e *engine, args []string, _, stderr io.Writer) error {
	fs := flag.NewFlagSet("record", flag.ContinueOnError)
	fs.SetOutput(stderr)
	seconds := fs.Float64("seconds", 5, "Length of the recording")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("record needs exactly one output file")
	}
	if *seconds <= 0 {
		return fmt.Errorf("invalid recording length %v", *seconds)
	}

	mask, err := e.cfg.ChannelMask()
	if err != nil {
		return err
	}
	rate := e.cfg.SampleRate

	sink, err := source.CreateWAVSink(fs.Arg(0), rate, mask.NumChannels())
	if err != nil {
		return err
	}

	want := int(*seconds * float64(rate))
	var (
		captured int
		writeErr error
	)
	device, err := e.openDevice(audio.StreamInput, rate, func(_ *audio.Stream, buffers audio.StreamBuffers) {
		if writeErr != nil || captured >= want {
			return
		}
		samples := buffers.InputF32()
		channels := mask.NumChannels()
		frames := min(buffers.Frames, want-captured)

		if writeErr = sink.Write(samples[:frames*channels]); writeErr == nil {
			captured += frames
		}
	})
	if err != nil {
		return errors.Join(err, sink.Close())
	}

	err = e.drive(ctx, device, func() bool { return writeErr != nil || captured >= want })
	device.Close()

	if err := errors.Join(err, writeErr, sink.Close()); err != nil {
		return err
	}
	e.logger.Info("recording saved", "file", fs.Arg(0), "frames", captured)
	return nil
}
