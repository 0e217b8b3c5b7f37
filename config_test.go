package kahea

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Account: Account{
			User: "mahina",
			URI:  "sip:mahina@lanikai.example",
		},
		Transport: Transport{
			Servers: []string{"wss://call.lanikai.example/ws"},
		},
	}
}

func TestConfigValidation(t *testing.T) {
	assert.NoError(t, validConfig().validate())

	cases := []struct {
		field  string
		mutate func(*Config)
	}{
		{"account.user", func(c *Config) { c.Account.User = "" }},
		{"account.uri", func(c *Config) { c.Account.URI = "" }},
		{"transport.servers", func(c *Config) { c.Transport.Servers = nil }},
		{"registrationExpiry", func(c *Config) { c.RegistrationExpiry = -time.Second }},
		{"reconnect.maxAttempts", func(c *Config) { c.Reconnect.MaxAttempts = -1 }},
		{"reconnect.minInterval", func(c *Config) {
			c.Reconnect.MinInterval = time.Minute
			c.Reconnect.MaxInterval = time.Second
		}},
	}
	for _, tc := range cases {
		config := validConfig()
		tc.mutate(&config)
		err := config.validate()
		var cfgErr *ConfigurationError
		if assert.True(t, errors.As(err, &cfgErr), "field %s", tc.field) {
			assert.Equal(t, tc.field, cfgErr.Field)
		}
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	config := validConfig()
	config.Account.User = ""
	_, err := New(config)
	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestDefaultsApplied(t *testing.T) {
	client, err := New(validConfig())
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, defaultMaxAttempts, client.config.Reconnect.MaxAttempts)
	assert.Equal(t, defaultMinInterval, client.config.Reconnect.MinInterval)
	assert.Equal(t, defaultMaxInterval, client.config.Reconnect.MaxInterval)
	assert.Equal(t, defaultExpiry, client.config.RegistrationExpiry)
	assert.Equal(t, defaultMaxAttempts, client.retryBudget)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
account:
  user: mahina
  uri: sip:mahina@lanikai.example
  displayName: Mahina
transport:
  servers:
    - wss://call.lanikai.example/ws
    - wss://fallback.lanikai.example/ws
  iceServers:
    - stun:stun.lanikai.example:3478
media:
  inputDevice: mic0
  outputDevice: speaker0
  volume: 80
  audioProcessing: true
registrationExpiry: 5m
reconnect:
  maxAttempts: 5
  minInterval: 1s
  maxInterval: 10s
  preserveBudget: true
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "mahina", config.Account.User)
	assert.Equal(t, "Mahina", config.Account.DisplayName)
	assert.Len(t, config.Transport.Servers, 2)
	assert.Equal(t, []string{"stun:stun.lanikai.example:3478"}, config.Transport.ICEServers)
	assert.Equal(t, "mic0", config.Media.InputDevice)
	assert.Equal(t, 80, config.Media.Volume)
	assert.True(t, config.Media.AudioProcessing)
	assert.Equal(t, 5*time.Minute, config.RegistrationExpiry)
	assert.Equal(t, 5, config.Reconnect.MaxAttempts)
	assert.Equal(t, time.Second, config.Reconnect.MinInterval)
	assert.True(t, config.Reconnect.PreserveBudget)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEngineOptionsTranslation(t *testing.T) {
	config := validConfig()
	config.Account.Credential = "hunter2"
	config.RegistrationExpiry = time.Minute
	opts := config.engineOptions()
	assert.Equal(t, config.Transport.Servers, opts.Servers)
	assert.Equal(t, "mahina", opts.User)
	assert.Equal(t, "hunter2", opts.Credential)
	assert.Equal(t, time.Minute, opts.Expiry)
}
