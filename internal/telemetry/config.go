package telemetry

import "codeberg.org/mutker/heartbeat/internal/errors"

const (
	defaultListen = ":9464"
	namespace     = "heartbeat"
)

type Config struct {
	Enabled bool
	Listen  string
}

func DefaultConfig() Config {
	return Config{
		Listen: defaultListen,
	}
}

func (c Config) Validate() error {
	if c.Enabled && c.Listen == "" {
		return errors.New().New(ErrInvalidListen)
	}
	return nil
}
