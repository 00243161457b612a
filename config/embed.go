// Package config provides the embedded default configuration for the
// image-chat client.
package config

import (
	_ "embed"
)

// DefaultConfigYAML contains the embedded default configuration in YAML
// format. It is written to the config path on first run.
//
//go:embed config.default.yaml
var DefaultConfigYAML []byte
