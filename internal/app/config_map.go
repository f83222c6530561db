package app

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"plexpush/internal/config"
	"plexpush/internal/notifier"
	"plexpush/internal/pushcut"
	"plexpush/internal/webhook"
	logx "plexpush/pkg/logx"
)

func mapLogConfig(s *config.Settings) logx.Config {
	return logx.Config{
		Level:   s.Logging.Level,
		Console: s.Logging.Console,
		File: logx.FileConfig{
			Enabled: s.Logging.File.Enabled,
			Path:    s.Logging.File.Path,
		},
	}
}

func mapPushcutConfig(s *config.Settings, secret string) (pushcut.Config, error) {
	timeout, err := config.ParseDuration("pushcut.timeout", s.Pushcut.Timeout, 10*time.Second)
	if err != nil {
		return pushcut.Config{}, err
	}
	return pushcut.Config{
		Secret:  secret,
		BaseURL: s.Pushcut.BaseURL,
		Timeout: timeout,
	}, nil
}

func mapNotifierConfig(s *config.Settings, sendTimeout time.Duration) notifier.Config {
	return notifier.Config{
		Workers:     s.Notifier.Workers,
		QueueSize:   s.Notifier.QueueSize,
		RatePerSec:  s.Notifier.RatePerSec,
		SendTimeout: sendTimeout,
		DryRun:      s.Notifier.DryRun,
	}
}

func mapServerConfig(s *config.Settings, port int) (webhook.Config, error) {
	sc := s.Server
	if port <= 0 {
		return webhook.Config{}, fmt.Errorf("invalid port %d", port)
	}

	out := webhook.Config{
		Addr:         net.JoinHostPort(strings.TrimSpace(sc.Bind), strconv.Itoa(port)),
		MaxBodyBytes: sc.MaxBodyBytes,
		Pprof:        s.Debug.Pprof,
	}
	var err error
	if out.ReadHeaderTimeout, err = config.ParseDuration("server.read_header_timeout", sc.ReadHeaderTimeout, 0); err != nil {
		return webhook.Config{}, err
	}
	if out.ReadTimeout, err = config.ParseDuration("server.read_timeout", sc.ReadTimeout, 0); err != nil {
		return webhook.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDuration("server.write_timeout", sc.WriteTimeout, 0); err != nil {
		return webhook.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDuration("server.idle_timeout", sc.IdleTimeout, 0); err != nil {
		return webhook.Config{}, err
	}
	if out.ShutdownTimeout, err = config.ParseDuration("server.shutdown_timeout", sc.ShutdownTimeout, 0); err != nil {
		return webhook.Config{}, err
	}

	if s.Metrics.Enabled {
		out.MetricsPath = strings.TrimSpace(s.Metrics.Path)
		if out.MetricsPath == "" {
			out.MetricsPath = "/metrics"
		}
	}
	return out, nil
}
