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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/loqalabs/loqa-audir/internal/config"
)

const usage = `usage: audir [flags] <command> [args]

commands:
  devices                  list physical devices and their formats
  monitor                  log hot-plug events until interrupted
  sine [-freq hz]          play a sine tone on the output device
  play [-loop] <file>      play a .wav or .mp3 file
  record <out.wav>         capture the input device to a wav file

flags:
`

// globalOptions are the flags accepted before the command
type globalOptions struct {
	configPath string
	backend    string
	rate       int
	sharing    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		slog.Error("audir failed", "err", err)
		os.Exit(1)
	}
}

func parseGlobal(args []string, stderr io.Writer) (globalOptions, []string, error) {
	var opts globalOptions

	fs := flag.NewFlagSet("audir", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.configPath, "config", "audir.yaml", "Path to the config file")
	fs.StringVar(&opts.backend, "backend", "", "Audio engine: mock, portaudio or malgo")
	fs.IntVar(&opts.rate, "rate", 0, "Sample rate in Hz")
	fs.StringVar(&opts.sharing, "sharing", "", "Sharing mode: concurrent or exclusive")

	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return opts, nil, errors.New("missing command")
	}
	return opts, fs.Args(), nil
}

// loadConfig layers explicitly set flags over the file and environment
func loadConfig(opts globalOptions) (*config.Config, error) {
	v := config.New()
	if opts.backend != "" {
		v.Set("backend", opts.backend)
	}
	if opts.rate != 0 {
		v.Set("sample_rate", opts.rate)
	}
	if opts.sharing != "" {
		v.Set("sharing", opts.sharing)
	}
	return config.Load(v, opts.configPath)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, rest, err := parseGlobal(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logFile, err := config.ConfigureLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger := slog.Default()

	name, cmdArgs := rest[0], rest[1:]
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}

	engine, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	logger.Info("audio engine ready", "backend", cfg.Backend, "command", name)
	return cmd(ctx, engine, cmdArgs, stdout, stderr)
}
