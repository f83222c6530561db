package app

import (
	"time"

	"plexpush/internal/notifier"
	"plexpush/internal/runtime/supervisor"
	"plexpush/internal/throttle"
)

// Status is served on GET /status. Everything in it is in-memory and lost on
// restart.
type Status struct {
	Started         time.Time              `json:"started"`
	Uptime          string                 `json:"uptime"`
	ExampleSettings bool                   `json:"example_settings"`
	Rules           int                    `json:"rules"`
	Throttle        []throttle.State       `json:"throttle"`
	QueueLen        int                    `json:"queue_len"`
	Deliveries      []notifier.HistoryItem `json:"deliveries"`
	Supervisor      supervisor.Counters    `json:"supervisor"`
	Workers         supervisor.Counters    `json:"workers"`
	BusDropped      uint64                 `json:"bus_dropped"`
}

// maxStatusDeliveries bounds the history shown on the status route.
const maxStatusDeliveries = 50

func (a *App) Status() Status {
	st := Status{
		Started:         a.started,
		ExampleSettings: a.cfgm.UsingExample(),
		Rules:           a.disp.Rules().Len(),
		Throttle:        a.registry.Snapshot(),
		QueueLen:        a.notif.QueueLen(),
		BusDropped:      a.bus.Dropped(),
	}
	if !a.started.IsZero() {
		st.Uptime = time.Since(a.started).Round(time.Second).String()
	}
	hist := a.notif.Snapshot()
	if len(hist) > maxStatusDeliveries {
		hist = hist[len(hist)-maxStatusDeliveries:]
	}
	st.Deliveries = hist
	if a.sup != nil {
		st.Supervisor = a.sup.Counters()
	}
	if ws := a.notif.Supervisor(); ws != nil {
		st.Workers = ws.Counters()
	}
	return st
}
