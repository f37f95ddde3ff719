package config

import "go.uber.org/fx"

var Module = fx.Module("config",
	fx.Provide(Provide),
)

// Provide loads the environment and refuses to start without SIIMP or a database.
func Provide() (Config, error) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
