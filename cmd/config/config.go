// Package config in cmd provides a thin wrapper around the shared
// configuration loader found in pkg/config. It exposes the loaded
// configuration via the AppConfig variable for the engine's developer
// driver and its tests.
package config

import (
	pkgconfig "github.com/essential-contributions/essential-core/pkg/config"
)

// AppConfig holds the currently loaded configuration for cmd/engine.
// It mirrors pkg/config.AppConfig but is scoped to this package for
// convenience when writing driver code and tests.
var AppConfig pkgconfig.Config

// LoadConfig loads the configuration for the given environment name and
// stores it in AppConfig. Any errors during loading cause a panic, which
// is acceptable for command line initialisation where failure should
// abort execution.
func LoadConfig(env string) {
	cfg, err := pkgconfig.Load(env)
	if err != nil {
		panic(err)
	}
	AppConfig = *cfg
}
