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

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/loqalabs/loqa-audir/internal/audio"
	"github.com/spf13/viper"
)

// Backend names accepted by the "backend" key
const (
	BackendMock      = "mock"
	BackendPortAudio = "portaudio"
	BackendMalgo     = "malgo"
)

// Config is the runtime configuration of the audir tools
type Config struct {
	Backend    string        `mapstructure:"backend"`
	SampleRate int           `mapstructure:"sample_rate"`
	Sharing    string        `mapstructure:"sharing"`
	Channels   string        `mapstructure:"channels"`
	Timeout    time.Duration `mapstructure:"timeout"` // zero waits forever
	LogLevel   string        `mapstructure:"loglevel"`
	LogFile    string        `mapstructure:"logfile"`
	NATS       NATSConfig    `mapstructure:"nats"`
}

// NATSConfig controls hot-plug event publishing. An empty URL disables it.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", BackendPortAudio)
	v.SetDefault("sample_rate", 48000)
	v.SetDefault("sharing", "concurrent")
	v.SetDefault("channels", "stereo")
	v.SetDefault("timeout", "0s")
	v.SetDefault("loglevel", "info")
	v.SetDefault("logfile", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "audio.events")
}

// New returns a viper instance with defaults and AUDIR_* environment
// overrides installed. Flags may be bound to it before Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("audir")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v and decodes the result. A
// missing file is not an error.
func Load(v *viper.Viper, configFilePath string) (*Config, error) {
	if configFilePath != "" {
		v.SetConfigFile(configFilePath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isMissingFile(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", configFilePath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// LoadConfig is Load over a fresh New()
func LoadConfig(configFilePath string) (*Config, error) {
	return Load(New(), configFilePath)
}

// Validate rejects values the tools cannot act on
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMock, BackendPortAudio, BackendMalgo:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if _, err := c.SharingMode(); err != nil {
		return err
	}
	if _, err := c.ChannelMask(); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return errors.New("nats subject must be set when a url is configured")
	}
	return nil
}

// SharingMode maps the "sharing" key
func (c *Config) SharingMode() (audio.SharingMode, error) {
	switch c.Sharing {
	case "concurrent":
		return audio.SharingConcurrent, nil
	case "exclusive":
		return audio.SharingExclusive, nil
	}
	return 0, fmt.Errorf("unknown sharing mode %q", c.Sharing)
}

// ChannelMask maps the "channels" key
func (c *Config) ChannelMask() (audio.ChannelMask, error) {
	switch c.Channels {
	case "stereo":
		return audio.ChannelsStereo, nil
	case "mono":
		return audio.ChannelsMono, nil
	}
	return 0, fmt.Errorf("unknown channel layout %q", c.Channels)
}

// SubmitTimeout converts Timeout for Device.SubmitBuffers
func (c *Config) SubmitTimeout() time.Duration {
	if c.Timeout == 0 {
		return audio.Infinite
	}
	return c.Timeout
}
