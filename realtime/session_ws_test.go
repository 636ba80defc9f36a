package realtime_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunance/realtime-go/realtime"
	"github.com/lunance/realtime-go/realtime/realtimetest"
	"github.com/lunance/realtime-go/realtime/transport"
)

func wsConfig() realtime.Config {
	cfg := realtime.DefaultConfig()
	cfg.HeartbeatInterval = time.Second
	cfg.ConnectTimeout = 2 * time.Second
	return cfg
}

func wsBackoff() realtime.BackoffPolicy {
	return realtime.NewBackoffPolicyWithSource(10*time.Millisecond, 50*time.Millisecond, rand.NewSource(1))
}

func awaitState(t *testing.T, s *realtime.Session, want realtime.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.State() == want
	}, 3*time.Second, 10*time.Millisecond, "session never reached %s", want)
}

func TestSessionOverWebSocket(t *testing.T) {
	srv := realtimetest.NewServer()
	defer srv.Close()

	session := realtime.NewSession(
		transport.NewWebSocket(srv.URL()),
		wsConfig(),
		realtime.WithBackoffPolicy(wsBackoff()),
	)

	require.NoError(t, session.Connect(context.Background(), "tok1"))
	assert.Equal(t, realtime.StateConnected, session.State())

	require.NoError(t, session.Subscribe("transaction"))
	require.True(t, srv.AwaitFrame(realtime.EventSubscribe, 2*time.Second))

	require.NoError(t, srv.Push(realtime.Envelope{
		Event:   "transaction_created",
		Channel: "transaction",
		Data:    map[string]interface{}{"amount": "4.20"},
	}))

	select {
	case ev := <-session.Events():
		assert.Equal(t, realtime.Event("transaction_created"), ev.Event)
		assert.Equal(t, "transaction", ev.Channel)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pushed event")
	}

	require.NoError(t, session.Disconnect())
}

func TestSessionReconnectsOverWebSocket(t *testing.T) {
	srv := realtimetest.NewServer()
	defer srv.Close()

	session := realtime.NewSession(
		transport.NewWebSocket(srv.URL()),
		wsConfig(),
		realtime.WithBackoffPolicy(wsBackoff()),
	)

	require.NoError(t, session.Connect(context.Background(), "tok1"))
	require.NoError(t, session.Subscribe("budget"))
	require.True(t, srv.AwaitFrame(realtime.EventSubscribe, 2*time.Second))

	srv.CloseWithCode(1006)

	awaitState(t, session, realtime.StateConnected)
	require.Eventually(t, func() bool {
		return srv.Dials() == 2
	}, 3*time.Second, 10*time.Millisecond)

	// the fresh connection must see the subscription again
	require.Eventually(t, func() bool {
		subscribes := 0
		for _, env := range srv.Received() {
			if env.Event == realtime.EventSubscribe && env.Channel == "budget" {
				subscribes++
			}
		}
		return subscribes == 2
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, session.Disconnect())
}

func TestSessionAuthRejectedOverWebSocket(t *testing.T) {
	srv := realtimetest.NewServer(realtimetest.RejectAuth(4001))
	defer srv.Close()

	session := realtime.NewSession(
		transport.NewWebSocket(srv.URL()),
		wsConfig(),
		realtime.WithBackoffPolicy(wsBackoff()),
	)

	err := session.Connect(context.Background(), "bad-token")
	require.Error(t, err)

	var authErr *realtime.AuthRejectedError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 4001, authErr.Code)
	assert.Equal(t, realtime.StateErrored, session.State())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, srv.Dials())
}
