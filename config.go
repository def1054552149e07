package web2wave

import (
	"github.com/caarlos0/env/v11"

	"github.com/web2wave/web2wave-go/internal"
)

type (
	Config        = internal.Config
	ConfigSurface = internal.ConfigSurface
)

// EnvPrefix is prepended to every environment variable read by LoadConfig.
const EnvPrefix = "WEB2WAVE_"

// LoadConfig reads Config from WEB2WAVE_* environment variables.
func LoadConfig() (cfg Config, err error) {
	err = env.ParseWithOptions(&cfg, env.Options{
		UseFieldNameByDefault: true,
		Prefix:                EnvPrefix,
	})
	return
}

// LoadConfigFrom is LoadConfig reading from the given environment instead of
// the process environment.
func LoadConfigFrom(environment map[string]string) (cfg Config, err error) {
	err = env.ParseWithOptions(&cfg, env.Options{
		UseFieldNameByDefault: true,
		Prefix:                EnvPrefix,
		Environment:           environment,
	})
	return
}
