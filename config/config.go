package config

import (
	_ "embed"
)

// relay config
//
//go:embed default.config.yml
var DefaultConfigYml string
