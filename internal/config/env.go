package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	EnvSecret = "PUSHCUT_SECRET"
	EnvPort   = "PLEX_WEBHOOK_PORT"

	DefaultPort = 12000
)

var ErrNoSecret = errors.New("missing env variable " + EnvSecret)

// Env is the process-level configuration that never lives in the settings
// file.
type Env struct {
	Secret string
	Port   int
}

// LoadEnv reads the process environment through getenv (os.Getenv in
// production).
func LoadEnv(getenv func(string) string) (Env, error) {
	secret := strings.TrimSpace(getenv(EnvSecret))
	if secret == "" {
		return Env{}, ErrNoSecret
	}

	port := DefaultPort
	if raw := strings.TrimSpace(getenv(EnvPort)); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			return Env{}, fmt.Errorf("%s should be a number, got %q", EnvPort, raw)
		}
		if p <= 0 || p > 65535 {
			return Env{}, fmt.Errorf("%s out of range: %d", EnvPort, p)
		}
		port = p
	}
	return Env{Secret: secret, Port: port}, nil
}
