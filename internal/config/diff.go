package config

import (
	"reflect"

	logx "plexpush/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and log-safe
// attributes describing the new values.
func SummarizeChange(oldS, newS *Settings) ([]string, []logx.Field) {
	if oldS == nil {
		oldS = &Settings{}
	}
	if newS == nil {
		newS = &Settings{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 8)

	if oldS.ShortcutName != newS.ShortcutName || !reflect.DeepEqual(oldS.ShortcutEventFilter, newS.ShortcutEventFilter) {
		changed = append(changed, "shortcut")
		attrs = append(attrs,
			logx.Bool("shortcut.enabled", newS.ShortcutName != ""),
			logx.Int("shortcut.filter_count", len(newS.ShortcutEventFilter)),
		)
	}
	if oldS.SkipPayloadIfNotOwner != newS.SkipPayloadIfNotOwner {
		changed = append(changed, "owner_filter")
		attrs = append(attrs, logx.Bool("skip_payload_if_not_owner", newS.SkipPayloadIfNotOwner))
	}
	if !reflect.DeepEqual(oldS.NotificationActionSets, newS.NotificationActionSets) {
		changed = append(changed, "rules")
		attrs = append(attrs,
			logx.Int("rules.old_count", len(oldS.NotificationActionSets)),
			logx.Int("rules.new_count", len(newS.NotificationActionSets)),
		)
	}
	// Secrets never live in the settings file, so whole sections are safe
	// to compare.
	sections := []struct {
		name     string
		old, new any
	}{
		{"pushcut", oldS.Pushcut, newS.Pushcut},
		{"logging", oldS.Logging, newS.Logging},
		{"notifier", oldS.Notifier, newS.Notifier},
		{"server", oldS.Server, newS.Server},
		{"metrics", oldS.Metrics, newS.Metrics},
		{"debug", oldS.Debug, newS.Debug},
	}
	for _, sec := range sections {
		if !reflect.DeepEqual(sec.old, sec.new) {
			changed = append(changed, sec.name)
		}
	}
	return changed, attrs
}
