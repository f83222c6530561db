package plex

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const episode = `{
  "event": "media.resume",
  "user": true,
  "owner": true,
  "Account": {"id": 1, "title": "alice"},
  "Server": {"title": "nas", "uuid": "s1"},
  "Player": {"local": true, "publicAddress": "1.2.3.4", "title": "TV - Bedroom", "uuid": "p9"},
  "Metadata": {
    "librarySectionType": "show",
    "type": "episode",
    "title": "Ozymandias",
    "grandparentTitle": "Breaking Bad",
    "parentTitle": "Season 5",
    "year": 2013
  }
}`

func TestDecodeEpisode(t *testing.T) {
	ev, err := Decode([]byte(episode))
	require.NoError(t, err)

	assert.Equal(t, EventResume, ev.EventType)
	assert.True(t, ev.IsOwner)
	assert.True(t, ev.IsUser)
	assert.Equal(t, "TV - Bedroom", ev.PlayerName)
	assert.Equal(t, "p9", ev.PlayerUUID)
	assert.Equal(t, "alice", ev.Account)
	assert.Equal(t, "nas", ev.Server)
	assert.Equal(t, "episode", ev.MediaType)
	assert.Equal(t, KindEpisode, ev.Kind())
	assert.Equal(t, "Breaking Bad", ev.GrandparentTitle)
	assert.Equal(t, 2013, ev.Year)
	assert.JSONEq(t, episode, string(ev.Raw))
	assert.False(t, ev.HasImage())
	assert.Empty(t, ev.ImageDataURI())
}

func TestDecodeDefaultsPlayer(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"library.new","Metadata":{"type":"clip"}}`))
	require.NoError(t, err)
	assert.Equal(t, UnknownPlayer, ev.PlayerName)
	assert.False(t, ev.IsOwner)
	assert.Equal(t, KindOther, ev.Kind())
	assert.Equal(t, "other", ev.Kind().String())
}

func TestDecodeMalformed(t *testing.T) {
	for name, in := range map[string]string{
		"empty":         "  ",
		"syntax":        `{"event":`,
		"wrong type":    `{"event":42,"Metadata":{"type":"movie"}}`,
		"no event":      `{"Metadata":{"type":"movie"}}`,
		"no metadata":   `{"event":"media.play"}`,
		"no media type": `{"event":"media.play","Metadata":{"title":"x"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(in))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestWithImage(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"media.play","Metadata":{"type":"movie"}}`))
	require.NoError(t, err)

	jpeg := []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")
	withImg := ev.WithImage(jpeg, "application/octet-stream")
	assert.False(t, ev.HasImage())
	assert.Equal(t, "image/jpeg", withImg.ImageType)
	assert.True(t, strings.HasPrefix(withImg.ImageDataURI(), "data:image/jpeg;base64,/9j/"))

	assert.Equal(t, ev, ev.WithImage(nil, "image/png"))
}

func TestIsKnownEvent(t *testing.T) {
	assert.True(t, IsKnownEvent(EventPlay))
	assert.True(t, IsKnownEvent(EventLibraryNew))
	assert.False(t, IsKnownEvent("media.play.extra"))
	assert.False(t, IsKnownEvent(""))
}
