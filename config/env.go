package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const (
	EnvLogLevel  = "ECAT_LOG_LEVEL"
	EnvCycles    = "ECAT_CYCLES"
	EnvCPU       = "ECAT_CPU"
	EnvTransport = "ECAT_TRANSPORT"
)

// ApplyEnv loads a .env file if there is one and lets the environment
// override the file configuration.
func ApplyEnv(cfg *Config) error {
	_ = godotenv.Load()

	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv(EnvTransport); ok {
		cfg.Transport = v
	}
	if v, ok := os.LookupEnv(EnvCycles); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, EnvCycles)
		}
		cfg.Timing.Cycles = n
	}
	if v, ok := os.LookupEnv(EnvCPU); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, EnvCPU)
		}
		cfg.CPU = &n
	}
	return nil
}
