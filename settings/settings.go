// Package settings holds the YAML configuration. Every knob has a
// default, so running without a configuration file is the common case.
package settings

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/socktree/socktree/netlink"
)

type Config struct {
	LogLevel         string `yaml:"logLevel"`
	ProcRoot         string `yaml:"procRoot"`
	ReceiveTimeoutMs int    `yaml:"receiveTimeoutMs"`
	ReceiveBuffer    int    `yaml:"receiveBuffer"`
	Color            string `yaml:"color"`
}

func Default() *Config {
	return &Config{
		LogLevel:         "warn",
		ProcRoot:         "/proc",
		ReceiveTimeoutMs: 5000,
		ReceiveBuffer:    netlink.DefaultConfig.ReceiveBuffer,
		Color:            "auto",
	}
}

func (c Config) String() string {
	m, err := yaml.MarshalWithOptions(c, yaml.Indent(2), yaml.IndentSequence(true))
	if err != nil {
		return "marshalling error..."
	}
	return string(m)
}

func (c *Config) UnmarshalYAML(b []byte) error {
	// Needed to break recursive calls into UnmarshalYAML
	type config Config

	def := (*config)(Default())
	if err := yaml.Unmarshal(b, def); err != nil {
		return err
	}

	*c = Config(*def)

	return nil
}

// Netlink translates the relevant knobs for the protocol transport.
func (c *Config) Netlink() *netlink.Config {
	return &netlink.Config{
		ReceiveTimeout: time.Duration(c.ReceiveTimeoutMs) * time.Millisecond,
		ReceiveBuffer:  c.ReceiveBuffer,
	}
}

func ReadConf(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	r, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading the configuration file: %w", err)
	}

	conf := Config{}
	if err := yaml.Unmarshal(r, &conf); err != nil {
		return nil, fmt.Errorf("error unmarshaling the configuration: %w", err)
	}

	return &conf, nil
}
