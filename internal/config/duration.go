package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration parses a Go duration string. Empty yields def.
// path names the field in error messages.
func ParseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// Window returns the throttle window of the rule: throttle_window when set,
// otherwise throttle_timeout in milliseconds.
func (r RuleConfig) Window() (time.Duration, error) {
	if strings.TrimSpace(r.ThrottleWindow) != "" {
		return ParseDuration("throttle_window", r.ThrottleWindow, 0)
	}
	if r.ThrottleTimeout < 0 {
		return 0, fmt.Errorf("throttle_timeout: must be >= 0")
	}
	return time.Duration(r.ThrottleTimeout) * time.Millisecond, nil
}
