package render

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plexpush/internal/plex"
	"plexpush/internal/rules"
)

func TestTitleByKind(t *testing.T) {
	cases := []struct {
		ev   plex.Event
		want string
	}{
		{plex.Event{MediaType: "episode", GrandparentTitle: "The Wire", Title: "Middle Ground"}, "📺 The Wire - Middle Ground"},
		{plex.Event{MediaType: "movie", Title: "Heat"}, "🎥 Heat"},
		{plex.Event{MediaType: "track", Title: "Teardrop"}, "🎧 Teardrop"},
		{plex.Event{MediaType: "clip", Title: "Trailer"}, "📺 You're watching Plex"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Title(c.ev))
	}
}

func TestStatusText(t *testing.T) {
	r := rules.New(0, rules.Spec{})
	ev := plex.Event{PlayerName: "TV - Living Room"}

	for event, want := range map[string]string{
		plex.EventPlay:   "🟢 TV - Living Room",
		plex.EventResume: "🟢 TV - Living Room",
		plex.EventPause:  "🟡 TV - Living Room",
		plex.EventStop:   "🛑 TV - Living Room",
		"library.new":    "TV - Living Room",
	} {
		ev.EventType = event
		assert.Equal(t, want, StatusText(ev, r), event)
	}

	ev.EventType = plex.EventPause
	r = rules.New(0, rules.Spec{TitleOverride: "Living room"})
	assert.Equal(t, "🟡 Living room", StatusText(ev, r))
}

func TestRenderMergesExtrasUnderTitleAndText(t *testing.T) {
	r := rules.New(0, rules.Spec{Extra: map[string]any{
		"title":   "ignored",
		"text":    "ignored",
		"image":   "https://example.com/poster.png",
		"actions": []any{map[string]any{"name": "Dim"}},
	}})
	ev := plex.Event{EventType: plex.EventPlay, PlayerName: "TV", MediaType: "movie", Title: "Heat"}.
		WithImage([]byte("\x89PNG\r\n\x1a\n"), "image/png")

	p := Render(ev, r)
	f := p.Fields()
	assert.Equal(t, "🎥 Heat", f["title"])
	assert.Equal(t, "🟢 TV", f["text"])
	// Extras replace the computed image but never title or text.
	assert.Equal(t, "https://example.com/poster.png", f["image"])
	assert.Contains(t, f, "actions")
	assert.Equal(t, []string{"title", "text"}, p.Collisions())
}

func TestRenderIsIdempotent(t *testing.T) {
	r := rules.New(0, rules.Spec{Extra: map[string]any{"sound": "chime", "input": "x", "devices": []any{"a", "b"}}})
	ev := plex.Event{EventType: plex.EventStop, PlayerName: "TV", MediaType: "episode", GrandparentTitle: "S", Title: "E"}

	a, err := json.Marshal(Render(ev, r))
	require.NoError(t, err)
	b, err := json.Marshal(Render(ev, r))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.JSONEq(t, `{"title":"📺 S - E","text":"🛑 TV","sound":"chime","input":"x","devices":["a","b"]}`, string(a))
}

func TestRenderWithoutImageOmitsField(t *testing.T) {
	p := Render(plex.Event{EventType: plex.EventPlay, MediaType: "movie"}, rules.New(0, rules.Spec{}))
	assert.NotContains(t, p.Fields(), "image")
	assert.Empty(t, p.Collisions())
}
