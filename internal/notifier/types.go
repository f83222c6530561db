package notifier

import (
	"encoding/json"
	"time"
)

// Config controls the async delivery pipeline.
type Config struct {
	Workers     int
	QueueSize   int
	RatePerSec  int
	SendTimeout time.Duration
	// DryRun logs deliveries instead of calling Pushcut.
	DryRun bool
}

type Kind string

const (
	KindNotification Kind = "notification"
	KindShortcut     Kind = "shortcut"
)

// Delivery is one outbound call waiting for a worker.
type Delivery struct {
	// ID is the dispatch id of the webhook event that produced it.
	ID   string
	Kind Kind
	// Target is the notification name or the shortcut name.
	Target      string
	ThrottleKey string
	Rule        string

	// Payload is the notification body (KindNotification).
	Payload any
	// Input is the raw Plex event (KindShortcut).
	Input json.RawMessage

	QueuedAt time.Time
}

// HistoryItem records the outcome of a delivery for the status route.
type HistoryItem struct {
	At          time.Time     `json:"at"`
	ID          string        `json:"id"`
	Kind        Kind          `json:"kind"`
	Target      string        `json:"target"`
	ThrottleKey string        `json:"throttle_key,omitempty"`
	Rule        string        `json:"rule,omitempty"`
	Took        time.Duration `json:"took"`
	DryRun      bool          `json:"dry_run,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// DeliveryEvent is published on the event bus for delivery lifecycle events.
type DeliveryEvent struct {
	ID     string    `json:"id"`
	Kind   Kind      `json:"kind"`
	Target string    `json:"target"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
