package rules

import (
	"fmt"
	"strings"
	"time"
)

// NoThrottle is the throttle key of rules that never suppress a send.
const NoThrottle = "no-throttle"

// Rule is one routing rule ("notification action set"). Rules are built once
// from settings and never modified.
type Rule struct {
	// Index is the position in configuration order, starting at 0.
	Index int
	// Name is an optional operator label used in logs.
	Name string

	Players    Set
	EventTypes Set
	MediaTypes Set

	NotificationName string
	ThrottleKey      string
	ThrottleWindow   time.Duration
	TitleOverride    string

	// Extra is merged into the outbound payload. Treat as read-only.
	Extra map[string]any
}

// Label identifies the rule in diagnostics.
func (r Rule) Label() string {
	if r.Name != "" {
		return fmt.Sprintf("#%d %s", r.Index, r.Name)
	}
	return fmt.Sprintf("#%d %s", r.Index, r.NotificationName)
}

// Throttled reports whether sends for this rule share a suppression window.
func (r Rule) Throttled() bool { return r.ThrottleKey != NoThrottle && r.ThrottleWindow > 0 }

// Spec is the configuration-side description of a rule.
type Spec struct {
	Name             string
	Players          []string
	EventTypes       []string
	MediaTypes       []string
	NotificationName string
	ThrottleKey      string
	ThrottleWindow   time.Duration
	TitleOverride    string
	Extra            map[string]any
}

// New builds a rule, applying the throttle defaults: an empty key becomes
// NoThrottle and NoThrottle always has a zero window.
func New(index int, s Spec) Rule {
	key := strings.TrimSpace(s.ThrottleKey)
	if key == "" {
		key = NoThrottle
	}
	window := s.ThrottleWindow
	if key == NoThrottle || window < 0 {
		window = 0
	}
	return Rule{
		Index:            index,
		Name:             strings.TrimSpace(s.Name),
		Players:          NewSet(s.Players...),
		EventTypes:       NewSet(s.EventTypes...),
		MediaTypes:       NewSet(s.MediaTypes...),
		NotificationName: strings.TrimSpace(s.NotificationName),
		ThrottleKey:      key,
		ThrottleWindow:   window,
		TitleOverride:    s.TitleOverride,
		Extra:            cloneMap(s.Extra),
	}
}

// Store is the ordered, immutable rule list.
type Store struct {
	rules []Rule
}

// NewStore builds rules in the given order.
func NewStore(specs ...Spec) *Store {
	st := &Store{rules: make([]Rule, 0, len(specs))}
	for i, s := range specs {
		st.rules = append(st.rules, New(i, s))
	}
	return st
}

func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Rules returns a copy of the rule list in configuration order.
func (s *Store) Rules() []Rule {
	if s == nil {
		return nil
	}
	return append([]Rule(nil), s.rules...)
}

// ThrottleKeys returns the distinct throttle keys in first-seen order.
func (s *Store) ThrottleKeys() []string {
	if s == nil {
		return nil
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(s.rules))
	for _, r := range s.rules {
		if _, ok := seen[r.ThrottleKey]; ok {
			continue
		}
		seen[r.ThrottleKey] = struct{}{}
		out = append(out, r.ThrottleKey)
	}
	return out
}

// Set is a small string set that remembers insertion order for display.
type Set struct {
	items []string
	index map[string]struct{}
}

func NewSet(items ...string) Set {
	s := Set{index: make(map[string]struct{}, len(items))}
	for _, it := range items {
		if _, ok := s.index[it]; ok {
			continue
		}
		s.index[it] = struct{}{}
		s.items = append(s.items, it)
	}
	return s
}

func (s Set) Contains(v string) bool {
	_, ok := s.index[v]
	return ok
}

func (s Set) Len() int { return len(s.items) }

func (s Set) Items() []string { return append([]string(nil), s.items...) }

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
