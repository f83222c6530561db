// Package dispatch runs the per-event pipeline: owner filter, automation
// trigger, rule selection, rendering, throttling and hand-off to the
// delivery queue. It never blocks on network I/O.
package dispatch

import (
	"strings"

	"github.com/google/uuid"

	"plexpush/internal/eventbus"
	"plexpush/internal/metrics"
	"plexpush/internal/notifier"
	"plexpush/internal/plex"
	"plexpush/internal/render"
	"plexpush/internal/rules"
	"plexpush/internal/throttle"
	logx "plexpush/pkg/logx"
)

type Outcome string

const (
	OutcomeOwnerSkipped Outcome = "owner_skipped"
	OutcomeUnmatched    Outcome = "unmatched"
	OutcomeThrottled    Outcome = "throttled"
	OutcomeQueued       Outcome = "queued"
	OutcomeQueueFull    Outcome = "queue_full"
)

// Result describes what Dispatch did with one event.
type Result struct {
	ID         string  `json:"id"`
	Outcome    Outcome `json:"outcome"`
	Rule       string  `json:"rule,omitempty"`
	RuleIndex  int     `json:"rule_index"`
	Candidates int     `json:"candidates"`

	ThrottleKey string `json:"throttle_key,omitempty"`
	// ShortcutQueued reports whether the automation trigger was handed to
	// the delivery queue.
	ShortcutQueued bool `json:"shortcut_queued"`
}

// Enqueuer accepts deliveries without blocking.
type Enqueuer interface {
	Enqueue(d notifier.Delivery) error
}

// Config is the non-rule part of the settings.
type Config struct {
	// SkipIfNotOwner drops events whose owner flag is false.
	SkipIfNotOwner bool
	// ShortcutName enables the automation trigger when non-empty.
	ShortcutName string
	// ShortcutEvents limits the trigger to these event types; empty means all.
	ShortcutEvents []string
}

// Event is the bus payload for dispatch decisions.
type Event struct {
	ID          string `json:"id"`
	EventType   string `json:"event"`
	Player      string `json:"player"`
	MediaType   string `json:"media_type"`
	Rule        string `json:"rule,omitempty"`
	ThrottleKey string `json:"throttle_key,omitempty"`
	Candidates  int    `json:"candidates,omitempty"`
}

type Option func(*Dispatcher)

func WithLogger(log logx.Logger) Option {
	return func(d *Dispatcher) {
		if !log.IsZero() {
			d.log = log
		}
	}
}

func WithBus(bus eventbus.Bus) Option { return func(d *Dispatcher) { d.bus = bus } }

func WithMetrics(m *metrics.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// WithIDs replaces the dispatch id generator (uuid v4 by default).
func WithIDs(fn func() string) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.newID = fn
		}
	}
}

// Dispatcher is safe for concurrent use. The only shared mutable state is
// the throttle registry.
type Dispatcher struct {
	cfg            Config
	shortcutEvents rules.Set

	rules    *rules.Store
	registry *throttle.Registry
	out      Enqueuer

	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
	newID   func() string
}

func New(cfg Config, store *rules.Store, registry *throttle.Registry, out Enqueuer, opts ...Option) *Dispatcher {
	if registry == nil {
		registry = throttle.NewRegistry()
	}
	if store == nil {
		store = rules.NewStore()
	}
	cfg.ShortcutName = strings.TrimSpace(cfg.ShortcutName)
	d := &Dispatcher{
		cfg:            cfg,
		shortcutEvents: rules.NewSet(cfg.ShortcutEvents...),
		rules:          store,
		registry:       registry,
		out:            out,
		log:            logx.Nop(),
		newID:          uuid.NewString,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) Rules() *rules.Store { return d.rules }

func (d *Dispatcher) Registry() *throttle.Registry { return d.registry }

// Dispatch processes one decoded event. Every outbound call is queued; the
// returned Result only reflects local decisions.
func (d *Dispatcher) Dispatch(ev plex.Event) Result {
	res := Result{ID: d.newID(), RuleIndex: -1}
	log := d.log.With(
		logx.String("id", res.ID),
		logx.String("event", ev.EventType),
		logx.String("player", playerName(ev)),
		logx.String("media_type", ev.MediaType),
	)
	info := Event{ID: res.ID, EventType: ev.EventType, Player: playerName(ev), MediaType: ev.MediaType}

	if d.cfg.SkipIfNotOwner && !ev.IsOwner {
		log.Debug("event skipped: not from the server owner")
		res.Outcome = OutcomeOwnerSkipped
		d.finish(eventbus.TypeOwnerSkipped, info, res)
		return res
	}

	res.ShortcutQueued = d.triggerShortcut(log, res.ID, ev)

	m, ok := rules.SelectRule(ev, d.rules)
	res.Candidates = m.Candidates
	if !ok {
		log.Debug("no matching rule")
		res.Outcome = OutcomeUnmatched
		d.finish(eventbus.TypeUnmatched, info, res)
		return res
	}

	r := m.Rule
	res.Rule, res.RuleIndex, res.ThrottleKey = r.Label(), r.Index, r.ThrottleKey
	info.Rule, info.ThrottleKey, info.Candidates = res.Rule, res.ThrottleKey, res.Candidates
	log = log.With(logx.String("rule", res.Rule), logx.String("throttle_key", r.ThrottleKey))

	if m.Ambiguous() {
		log.Warn("several rules match this event; using the first one, you probably want to modify your settings",
			logx.Int("candidates", m.Candidates),
			logx.Int("rule_index", r.Index),
		)
		d.publish(eventbus.TypeAmbiguous, info)
	}

	payload := render.Render(ev, r)
	delivery := notifier.Delivery{
		ID:          res.ID,
		Kind:        notifier.KindNotification,
		Target:      r.NotificationName,
		ThrottleKey: r.ThrottleKey,
		Rule:        res.Rule,
		Payload:     payload,
	}

	var enqueueErr error
	fired := d.registry.Limiter(r.ThrottleKey, r.ThrottleWindow).Invoke(func() {
		enqueueErr = d.enqueue(delivery)
	})

	switch {
	case !fired:
		log.Debug("notification throttled")
		res.Outcome = OutcomeThrottled
		d.finish(eventbus.TypeThrottled, info, res)
	case enqueueErr != nil:
		log.Warn("notification not queued", logx.Err(enqueueErr))
		res.Outcome = OutcomeQueueFull
		d.metrics.Dispatch(string(res.Outcome))
	default:
		log.Info("notification queued",
			logx.String("notification", r.NotificationName),
			logx.String("title", payload.Title),
		)
		res.Outcome = OutcomeQueued
		d.metrics.Dispatch(string(res.Outcome))
	}
	return res
}

func (d *Dispatcher) triggerShortcut(log logx.Logger, id string, ev plex.Event) bool {
	name := d.cfg.ShortcutName
	if name == "" {
		return false
	}
	if d.shortcutEvents.Len() > 0 && !d.shortcutEvents.Contains(ev.EventType) {
		return false
	}
	err := d.enqueue(notifier.Delivery{
		ID:     id,
		Kind:   notifier.KindShortcut,
		Target: name,
		Input:  ev.Raw,
	})
	if err != nil {
		log.Warn("shortcut not queued", logx.String("shortcut", name), logx.Err(err))
		return false
	}
	log.Debug("shortcut queued", logx.String("shortcut", name))
	return true
}

func (d *Dispatcher) enqueue(del notifier.Delivery) error {
	if d.out == nil {
		return notifier.ErrStopped
	}
	return d.out.Enqueue(del)
}

func (d *Dispatcher) finish(typ string, info Event, res Result) {
	d.metrics.Dispatch(string(res.Outcome))
	d.publish(typ, info)
}

func (d *Dispatcher) publish(typ string, info Event) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: info})
}

func playerName(ev plex.Event) string {
	if ev.PlayerName == "" {
		return plex.UnknownPlayer
	}
	return ev.PlayerName
}

