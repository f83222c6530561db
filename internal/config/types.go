package config

// Settings is the user-editable settings file (YAML or JSON).
//
// Only notification_action_sets is needed in practice; every other section
// has defaults. Rules are read once at startup.
type Settings struct {
	// ShortcutName, when set, runs this Pushcut shortcut/automation with the
	// raw Plex event as input on every accepted event.
	ShortcutName string `json:"shortcut_name,omitempty"`
	// ShortcutEventFilter limits the shortcut to these event types.
	// Empty means every event type.
	ShortcutEventFilter []string `json:"shortcut_event_filter,omitempty" validate:"dive,required"`
	// SkipPayloadIfNotOwner drops events not produced by the server owner.
	SkipPayloadIfNotOwner bool `json:"skip_payload_if_not_owner"`

	NotificationActionSets []RuleConfig `json:"notification_action_sets" validate:"dive"`

	Pushcut  PushcutConfig  `json:"pushcut,omitempty"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
	Notifier NotifierConfig `json:"notifier,omitempty"`
	Server   ServerConfig   `json:"server,omitempty"`
	Metrics  MetricsConfig  `json:"metrics,omitempty"`
	Debug    DebugConfig    `json:"debug,omitempty"`
}

// RuleConfig is one notification action set.
//
// A rule matches when the player, the event type and the media type are each
// listed. The first matching rule in file order wins.
type RuleConfig struct {
	Name       string   `json:"name,omitempty"`
	Players    []string `json:"players" validate:"required,min=1,dive,required"`
	EventTypes []string `json:"event_types" validate:"required,min=1,dive,required"`
	MediaTypes []string `json:"media_types" validate:"required,min=1,dive,required"`

	// NotificationName is the notification identifier defined in Pushcut.
	NotificationName string `json:"notification_name" validate:"required"`

	// ThrottleKey groups rules sharing one suppression window.
	// Empty means "no-throttle".
	ThrottleKey string `json:"throttle_key,omitempty"`
	// ThrottleTimeout is the window in milliseconds.
	ThrottleTimeout int64 `json:"throttle_timeout,omitempty" validate:"gte=0"`
	// ThrottleWindow is the window as a Go duration string ("15m").
	// Mutually exclusive with ThrottleTimeout.
	ThrottleWindow string `json:"throttle_window,omitempty"`

	// Title replaces the player name in the notification text.
	Title string `json:"title,omitempty"`

	// NotificationPayload is merged into the Pushcut request body as-is
	// (actions, defaultAction, sound, ...). "title" and "text" are ignored.
	NotificationPayload map[string]any `json:"notification_payload,omitempty"`
}

type PushcutConfig struct {
	// BaseURL defaults to https://api.pushcut.io.
	BaseURL string `json:"base_url,omitempty" validate:"omitempty,url"`
	// Timeout bounds one outbound call (Go duration, default "10s").
	Timeout string `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// NotifierConfig controls the async delivery pipeline.
//
// Defaults: workers 2, queue_size 512, rate_per_sec 3.
type NotifierConfig struct {
	Workers    int  `json:"workers,omitempty" validate:"gte=0"`
	QueueSize  int  `json:"queue_size,omitempty" validate:"gte=0"`
	RatePerSec int  `json:"rate_per_sec,omitempty" validate:"gte=0"`
	DryRun     bool `json:"dry_run,omitempty"`
}

// ServerConfig tunes the webhook listener. The port comes from
// PLEX_WEBHOOK_PORT.
//
// All durations are Go duration strings.
type ServerConfig struct {
	Bind              string `json:"bind,omitempty"`
	ReadHeaderTimeout string `json:"read_header_timeout,omitempty"`
	ReadTimeout       string `json:"read_timeout,omitempty"`
	WriteTimeout      string `json:"write_timeout,omitempty"`
	IdleTimeout       string `json:"idle_timeout,omitempty"`
	ShutdownTimeout   string `json:"shutdown_timeout,omitempty"`
	// MaxBodyBytes caps a webhook request (default 16 MiB; thumbnails included).
	MaxBodyBytes int64 `json:"max_body_bytes,omitempty" validate:"gte=0"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty" validate:"omitempty,startswith=/"`
}

type DebugConfig struct {
	// Pprof mounts the profiler under /debug. Keep it off on exposed hosts.
	Pprof bool `json:"pprof,omitempty"`
}
