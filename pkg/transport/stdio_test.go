package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdioDriver_RoundTrip(t *testing.T) {
	// cat echoes stdin back on stdout, so every request comes straight back.
	d := newStdioDriver(Config{Kind: KindStdio, Command: "cat"})
	require.NoError(t, d.Connect(context.Background()))
	defer d.Close()

	require.NoError(t, d.Send(context.Background(), request(t, 1, "ping")))

	msg := receive(t, d)
	require.NotNil(t, msg.ID)
	assert.Equal(t, int64(1), *msg.ID)
	assert.Equal(t, "ping", msg.Method)
}

func TestStdioDriver_CloseWaitsForProcessExit(t *testing.T) {
	d := newStdioDriver(Config{Kind: KindStdio, Command: "cat"})
	require.NoError(t, d.Connect(context.Background()))

	require.NoError(t, d.Close())
	require.NoError(t, d.Close(), "close is idempotent")

	select {
	case err := <-d.Errors():
		t.Fatalf("clean shutdown emitted a transport error: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStdioDriver_ServerExitEmitsError(t *testing.T) {
	d := newStdioDriver(Config{Kind: KindStdio, Command: "sh", Args: []string{"-c", "echo boom >&2; exit 3"}})
	require.NoError(t, d.Connect(context.Background()))
	defer d.Close()

	select {
	case err := <-d.Errors():
		require.NotNil(t, err)
		assert.Equal(t, CategoryServerExit, err.Category)
		assert.Contains(t, err.Message, "code 3")
		assert.Contains(t, err.Message, "boom", "stderr tail rides the exit error")
	case <-time.After(2 * time.Second):
		t.Fatal("no server exit error delivered")
	}
}
