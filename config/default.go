// Package config carries the embedded default configuration file.
package config

import _ "embed"

// Default is the embedded conf.yaml used when no file is present on disk.
//
//go:embed conf.yaml
var Default []byte
