package tenantauth

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// EnvPrefix prefixes every variable read by LoadConfigFromEnv.
const EnvPrefix = "TENANTAUTH_"

type envSigningKeys struct {
	AccessKey  string `env:"JWT_ACCESS_KEY,required,notEmpty,unset"`
	RefreshKey string `env:"JWT_REFRESH_KEY,required,notEmpty,unset"`
}

// LoadConfigFromEnv starts from the defaults and overlays TENANTAUTH_*
// variables, e.g. TENANTAUTH_JWT_ACCESS_KEY or TENANTAUTH_LOCKOUT_BACKOFF.
// The signing key variables are required and are unset after reading.
func LoadConfigFromEnv() (Config, error) {
	return loadConfig(env.Options{Prefix: EnvPrefix})
}

func loadConfig(opts env.Options) (Config, error) {
	cfg := defaultConfig()
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	var keys envSigningKeys
	if err := env.ParseWithOptions(&keys, opts); err != nil {
		return Config{}, fmt.Errorf("parse signing keys: %w", err)
	}
	cfg.JWT.AccessKey = []byte(keys.AccessKey)
	cfg.JWT.RefreshKey = []byte(keys.RefreshKey)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
