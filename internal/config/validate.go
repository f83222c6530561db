package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"plexpush/internal/render"
	"plexpush/internal/rules"
	logx "plexpush/pkg/logx"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report settings-file names (notification_action_sets[0].players)
	// instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}


// Validate checks s and returns non-fatal findings as warnings.
func Validate(s *Settings) (warnings []string, err error) {
	if s == nil {
		return nil, errors.New("settings: nil")
	}

	var errs []error
	if verr := validate.Struct(s); verr != nil {
		var ves validator.ValidationErrors
		if errors.As(verr, &ves) {
			for _, fe := range ves {
				errs = append(errs, fmt.Errorf("%s: failed %q", trimNamespace(fe.Namespace()), fe.Tag()))
			}
		} else {
			errs = append(errs, verr)
		}
	}

	if lvl := strings.TrimSpace(s.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	for path, raw := range map[string]string{
		"pushcut.timeout":            s.Pushcut.Timeout,
		"server.read_header_timeout": s.Server.ReadHeaderTimeout,
		"server.read_timeout":        s.Server.ReadTimeout,
		"server.write_timeout":       s.Server.WriteTimeout,
		"server.idle_timeout":        s.Server.IdleTimeout,
		"server.shutdown_timeout":    s.Server.ShutdownTimeout,
	} {
		if _, perr := ParseDuration(path, raw, 0); perr != nil {
			errs = append(errs, perr)
		}
	}

	if len(s.NotificationActionSets) == 0 {
		warnings = append(warnings, "notification_action_sets is empty: no notification will ever be sent")
	}

	windows := map[string]time.Duration{}
	for i, rc := range s.NotificationActionSets {
		path := fmt.Sprintf("notification_action_sets[%d]", i)
		if strings.TrimSpace(rc.ThrottleWindow) != "" && rc.ThrottleTimeout != 0 {
			errs = append(errs, fmt.Errorf("%s: set throttle_window or throttle_timeout, not both", path))
			continue
		}
		w, werr := rc.Window()
		if werr != nil {
			errs = append(errs, fmt.Errorf("%s.%w", path, werr))
			continue
		}

		key := strings.TrimSpace(rc.ThrottleKey)
		if (key == "" || key == rules.NoThrottle) && w > 0 {
			warnings = append(warnings, fmt.Sprintf("%s: throttle window ignored without a throttle_key", path))
		}
		if key != "" && key != rules.NoThrottle {
			if prev, ok := windows[key]; ok && prev != w {
				warnings = append(warnings, fmt.Sprintf("%s: throttle_key %q already used with window %s; the first window wins", path, key, prev))
			} else if !ok {
				windows[key] = w
			}
		}

		for _, k := range (render.Payload{Extra: rc.NotificationPayload}).Collisions() {
			warnings = append(warnings, fmt.Sprintf("%s.notification_payload.%s is ignored: it is computed from the event", path, k))
		}
	}

	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return warnings, errors.Join(errs...)
}

func trimNamespace(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return rest
}
