// Package render turns a matched event into a Pushcut notification payload.
package render

import (
	"encoding/json"

	"plexpush/internal/plex"
	"plexpush/internal/rules"
)

// Payload is the body of a Pushcut "send notification" call.
type Payload struct {
	Title string
	Text  string
	// Image is a data URI, or "" when the event had no thumbnail.
	Image string
	// Extra holds rule-supplied fields (actions, sound, input, ...).
	Extra map[string]any
}

// Reserved keys are always owned by the renderer.
var Reserved = []string{"title", "text"}

// Fields flattens the payload in merge order: text, image, rule extras, then
// title and text again so extras can never replace them.
func (p Payload) Fields() map[string]any {
	out := make(map[string]any, len(p.Extra)+3)
	out["text"] = p.Text
	if p.Image != "" {
		out["image"] = p.Image
	}
	for k, v := range p.Extra {
		out[k] = v
	}
	out["title"] = p.Title
	out["text"] = p.Text
	return out
}

// MarshalJSON encodes the flattened fields. encoding/json sorts map keys, so
// equal payloads encode to equal bytes.
func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Fields())
}

// Collisions lists extra keys that the renderer overrides.
func (p Payload) Collisions() []string {
	var out []string
	for _, k := range Reserved {
		if _, ok := p.Extra[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Render builds the payload for ev under rule r. It performs no I/O.
func Render(ev plex.Event, r rules.Rule) Payload {
	return Payload{
		Title: Title(ev),
		Text:  StatusText(ev, r),
		Image: ev.ImageDataURI(),
		Extra: r.Extra,
	}
}

// Title describes the media being played.
func Title(ev plex.Event) string {
	switch ev.Kind() {
	case plex.KindEpisode:
		return "📺 " + ev.GrandparentTitle + " - " + ev.Title
	case plex.KindMovie:
		return "🎥 " + ev.Title
	case plex.KindTrack:
		return "🎧 " + ev.Title
	default:
		return "📺 You're watching Plex"
	}
}

// StatusText names the player (or the rule's override) with a marker for
// the playback state.
func StatusText(ev plex.Event, r rules.Rule) string {
	base := r.TitleOverride
	if base == "" {
		base = ev.PlayerName
	}
	return eventMarker(ev.EventType) + base
}

func eventMarker(eventType string) string {
	switch eventType {
	case plex.EventPlay, plex.EventResume:
		return "🟢 "
	case plex.EventPause:
		return "🟡 "
	case plex.EventStop:
		return "🛑 "
	default:
		return ""
	}
}
