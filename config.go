//////////////////////////////////////////////////////////////////////////////
//
// Config describes everything the client needs at construction time: who we
// are, where the call server lives, which devices calls should use, and how
// aggressively to reconnect. Reconfiguration is destroy-and-rebuild, never
// in-place mutation; see Client.Reconfigure.
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package kahea

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lanikai/kahea/internal/signaling"
)

type Config struct {
	Account   Account   `yaml:"account"`
	Transport Transport `yaml:"transport"`

	// Device preferences passed opaquely into each session. The client does
	// not interpret device semantics.
	Media MediaOptions `yaml:"media"`

	// Registration lifetime requested from the call server.
	RegistrationExpiry time.Duration `yaml:"registrationExpiry"`

	Reconnect ReconnectPolicy `yaml:"reconnect"`
}

// Account identity announced to the call server.
type Account struct {
	User        string `yaml:"user"`
	Credential  string `yaml:"credential"`
	URI         string `yaml:"uri"`
	DisplayName string `yaml:"displayName"`
}

// Transport parameters for the signaling engine.
type Transport struct {
	// Signaling server URLs, tried in order.
	Servers []string `yaml:"servers"`

	// ICE servers handed through to the media layer.
	ICEServers []string `yaml:"iceServers"`
}

// MediaOptions is the platform's input/output device selection.
type MediaOptions struct {
	InputDevice     string `yaml:"inputDevice"`
	OutputDevice    string `yaml:"outputDevice"`
	Volume          int    `yaml:"volume"`
	Mute            bool   `yaml:"mute"`
	AudioProcessing bool   `yaml:"audioProcessing"`
}

// ReconnectPolicy bounds the supervised retry loop entered after an
// unexpected transport loss, and the transport retries within one Connect.
type ReconnectPolicy struct {
	// Maximum connection attempts before giving up.
	MaxAttempts int `yaml:"maxAttempts"`

	// Backoff delay bounds. The delay doubles from MinInterval up to
	// MaxInterval, with jitter.
	MinInterval time.Duration `yaml:"minInterval"`
	MaxInterval time.Duration `yaml:"maxInterval"`

	// PreserveBudget keeps a single attempt budget for the client's entire
	// lifetime instead of restoring it after each successful registration.
	PreserveBudget bool `yaml:"preserveBudget"`
}

const (
	defaultMaxAttempts = 10
	defaultMinInterval = 2 * time.Second
	defaultMaxInterval = 32 * time.Second
	defaultExpiry      = 10 * time.Minute
)

// DefaultReconnectPolicy returns the stock policy: 10 attempts, 2s..32s
// jittered exponential backoff, budget restored on success.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: defaultMaxAttempts,
		MinInterval: defaultMinInterval,
		MaxInterval: defaultMaxInterval,
	}
}

// LoadConfig reads a YAML configuration file. The result is validated by New.
func LoadConfig(path string) (Config, error) {
	var config Config
	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, err
	}
	return config, nil
}

// duration decodes Go duration strings ("30s", "5m") from YAML.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// UnmarshalYAML decodes via a shadow struct so that duration fields accept
// human-readable values.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Account            Account      `yaml:"account"`
		Transport          Transport    `yaml:"transport"`
		Media              MediaOptions `yaml:"media"`
		RegistrationExpiry duration     `yaml:"registrationExpiry"`
		Reconnect          struct {
			MaxAttempts    int      `yaml:"maxAttempts"`
			MinInterval    duration `yaml:"minInterval"`
			MaxInterval    duration `yaml:"maxInterval"`
			PreserveBudget bool     `yaml:"preserveBudget"`
		} `yaml:"reconnect"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Account = raw.Account
	c.Transport = raw.Transport
	c.Media = raw.Media
	c.RegistrationExpiry = time.Duration(raw.RegistrationExpiry)
	c.Reconnect = ReconnectPolicy{
		MaxAttempts:    raw.Reconnect.MaxAttempts,
		MinInterval:    time.Duration(raw.Reconnect.MinInterval),
		MaxInterval:    time.Duration(raw.Reconnect.MaxInterval),
		PreserveBudget: raw.Reconnect.PreserveBudget,
	}
	return nil
}

// withDefaults fills unset fields. Called by New after validation.
func (c Config) withDefaults() Config {
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = defaultMaxAttempts
	}
	if c.Reconnect.MinInterval == 0 {
		c.Reconnect.MinInterval = defaultMinInterval
	}
	if c.Reconnect.MaxInterval == 0 {
		c.Reconnect.MaxInterval = defaultMaxInterval
	}
	if c.RegistrationExpiry == 0 {
		c.RegistrationExpiry = defaultExpiry
	}
	return c
}

// validate checks required fields and ranges. Violations are fatal and never
// retried.
func (c Config) validate() error {
	if c.Account.User == "" {
		return &ConfigurationError{"account.user", "required"}
	}
	if c.Account.URI == "" {
		return &ConfigurationError{"account.uri", "required"}
	}
	if len(c.Transport.Servers) == 0 {
		return &ConfigurationError{"transport.servers", "at least one signaling server required"}
	}
	if c.RegistrationExpiry < 0 {
		return &ConfigurationError{"registrationExpiry", "must not be negative"}
	}
	if c.Reconnect.MaxAttempts < 0 {
		return &ConfigurationError{"reconnect.maxAttempts", "must not be negative"}
	}
	if c.Reconnect.MinInterval < 0 || c.Reconnect.MaxInterval < 0 {
		return &ConfigurationError{"reconnect", "intervals must not be negative"}
	}
	if c.Reconnect.MinInterval != 0 && c.Reconnect.MaxInterval != 0 &&
		c.Reconnect.MinInterval > c.Reconnect.MaxInterval {
		return &ConfigurationError{"reconnect.minInterval", "exceeds maxInterval"}
	}
	return nil
}

// engineOptions translates the client configuration into the engine's option
// set. The engine never sees the reconnect policy; retries are supervised
// above it.
func (c Config) engineOptions() signaling.Options {
	return signaling.Options{
		Servers:     c.Transport.Servers,
		User:        c.Account.User,
		Credential:  c.Account.Credential,
		URI:         c.Account.URI,
		DisplayName: c.Account.DisplayName,
		Expiry:      c.RegistrationExpiry,
		ICEServers:  c.Transport.ICEServers,
	}
}

// description translates device preferences for the engine boundary.
func (m MediaOptions) description() signaling.MediaDescription {
	return signaling.MediaDescription{
		InputDevice:     m.InputDevice,
		OutputDevice:    m.OutputDevice,
		Volume:          m.Volume,
		Mute:            m.Mute,
		AudioProcessing: m.AudioProcessing,
	}
}
