// Package plex decodes Plex Media Server webhook deliveries.
//
// Plex posts a multipart form with a "payload" field holding the JSON event
// and, for some events, a "thumb" file with the poster image. See
// https://support.plex.tv/articles/115002267687-webhooks/ for the format.
package plex

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrMalformed marks an event body that cannot be used for matching.
var ErrMalformed = errors.New("malformed plex event")

// UnknownPlayer stands in for a missing Player.title so matching never fails
// on absent data.
const UnknownPlayer = "n/a"

const (
	EventPlay   = "media.play"
	EventPause  = "media.pause"
	EventResume = "media.resume"
	EventStop   = "media.stop"
)

// Event types Plex sends that no renderer marker covers.
const (
	EventScrobble          = "media.scrobble"
	EventRate              = "media.rate"
	EventLibraryOnDeck     = "library.on.deck"
	EventLibraryNew        = "library.new"
	EventPlaybackStarted   = "playback.started"
	EventDeviceNew         = "device.new"
	EventDatabaseBackup    = "admin.database.backup"
	EventDatabaseCorrupted = "admin.database.corrupted"
)

var knownEvents = map[string]struct{}{
	EventPlay: {}, EventPause: {}, EventResume: {}, EventStop: {},
	EventScrobble: {}, EventRate: {}, EventLibraryOnDeck: {}, EventLibraryNew: {},
	EventPlaybackStarted: {}, EventDeviceNew: {}, EventDatabaseBackup: {}, EventDatabaseCorrupted: {},
}

// IsKnownEvent reports whether name is one of the event types Plex documents.
func IsKnownEvent(name string) bool {
	_, ok := knownEvents[name]
	return ok
}

// MediaKind is the renderer-facing classification of Metadata.type.
type MediaKind int

const (
	KindOther MediaKind = iota
	KindEpisode
	KindMovie
	KindTrack
)

func (k MediaKind) String() string {
	switch k {
	case KindEpisode:
		return "episode"
	case KindMovie:
		return "movie"
	case KindTrack:
		return "track"
	default:
		return "other"
	}
}

// Event is one decoded webhook delivery. It is not modified after Decode.
type Event struct {
	EventType string
	IsOwner   bool
	IsUser    bool

	PlayerName string
	PlayerUUID string
	Account    string
	Server     string

	// MediaType is the raw Metadata.type value ("episode", "movie", "clip", ...).
	MediaType        string
	Title            string
	GrandparentTitle string
	ParentTitle      string
	Year             int

	Image     []byte
	ImageType string

	// Raw is the undecoded payload, forwarded as shortcut input.
	Raw json.RawMessage
}

// Kind maps MediaType onto the kinds the renderer distinguishes.
func (e Event) Kind() MediaKind {
	switch e.MediaType {
	case "episode":
		return KindEpisode
	case "movie":
		return KindMovie
	case "track":
		return KindTrack
	default:
		return KindOther
	}
}

// HasImage reports whether a thumbnail was attached.
func (e Event) HasImage() bool { return len(e.Image) > 0 }

// ImageDataURI returns the thumbnail as a data URI, or "" without one.
func (e Event) ImageDataURI() string {
	if !e.HasImage() {
		return ""
	}
	ct := e.ImageType
	if ct == "" {
		ct = http.DetectContentType(e.Image)
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(e.Image)
}

type wirePayload struct {
	Event   string `json:"event"`
	User    bool   `json:"user"`
	Owner   bool   `json:"owner"`
	Account *struct {
		Title string `json:"title"`
	} `json:"Account"`
	Server *struct {
		Title string `json:"title"`
	} `json:"Server"`
	Player *struct {
		Title string `json:"title"`
		UUID  string `json:"uuid"`
	} `json:"Player"`
	Metadata *struct {
		Type             string `json:"type"`
		Title            string `json:"title"`
		GrandparentTitle string `json:"grandparentTitle"`
		ParentTitle      string `json:"parentTitle"`
		Year             int    `json:"year"`
	} `json:"Metadata"`
}

// Decode parses the JSON payload of a webhook delivery. The event type and
// Metadata.type are required; everything else is optional.
func Decode(data []byte) (Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Event{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	var w wirePayload
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	ev := Event{
		EventType:  strings.TrimSpace(w.Event),
		IsOwner:    w.Owner,
		IsUser:     w.User,
		PlayerName: UnknownPlayer,
		Raw:        append(json.RawMessage(nil), data...),
	}
	if ev.EventType == "" {
		return Event{}, fmt.Errorf("%w: missing event", ErrMalformed)
	}
	if w.Metadata == nil || strings.TrimSpace(w.Metadata.Type) == "" {
		return Event{}, fmt.Errorf("%w: missing Metadata.type", ErrMalformed)
	}
	ev.MediaType = strings.TrimSpace(w.Metadata.Type)
	ev.Title = w.Metadata.Title
	ev.GrandparentTitle = w.Metadata.GrandparentTitle
	ev.ParentTitle = w.Metadata.ParentTitle
	ev.Year = w.Metadata.Year

	if w.Player != nil {
		if t := strings.TrimSpace(w.Player.Title); t != "" {
			ev.PlayerName = t
		}
		ev.PlayerUUID = w.Player.UUID
	}
	if w.Account != nil {
		ev.Account = w.Account.Title
	}
	if w.Server != nil {
		ev.Server = w.Server.Title
	}
	return ev, nil
}

// WithImage returns a copy of e carrying the given thumbnail.
func (e Event) WithImage(img []byte, contentType string) Event {
	if len(img) == 0 {
		return e
	}
	e.Image = img
	ct := strings.TrimSpace(contentType)
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(img)
	}
	e.ImageType = ct
	return e
}
