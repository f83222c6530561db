package systemd

import (
	"context"
	"testing"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifierStates(t *testing.T) {
	var got []string
	n := Notifier{send: func(_ bool, state string) (bool, error) {
		got = append(got, state)
		return true, nil
	}}

	sent, err := n.Ready()
	require.NoError(t, err)
	assert.True(t, sent)
	_, _ = n.Status("listening on :12000")
	_, _ = n.Stopping()

	assert.Equal(t, []string{daemon.SdNotifyReady, "STATUS=listening on :12000", daemon.SdNotifyStopping}, got)
}

func TestNotifierOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	var n Notifier
	sent, err := n.Ready()
	require.NoError(t, err)
	assert.False(t, sent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, n.Watchdog(ctx))
}
