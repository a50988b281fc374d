package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-sqlrest/pkg/services/push"
)

func dialPush(t *testing.T, env *testEnv) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })
	return srv, conn
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func receive(t *testing.T, conn *websocket.Conn) push.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var m push.Message
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestPushHandler_Messages(t *testing.T) {
	env := newTestEnv(t, "1h")
	_, conn := dialPush(t, env)

	send(t, conn, `{"type":"ping","ref":"p1"}`)
	assert.Equal(t, push.Message{Type: push.MessagePong, Ref: "p1"}, receive(t, conn))

	send(t, conn, `{"type":"shout"}`)
	m := receive(t, conn)
	assert.Equal(t, push.MessageError, m.Type)
	assert.Equal(t, "unknown message type", m.Error)

	send(t, conn, `not json`)
	assert.Equal(t, "invalid JSON", receive(t, conn).Error)

	send(t, conn, `{"type":"subscribe","ref":"s0"}`)
	assert.Equal(t, "resource is required", receive(t, conn).Error)

	send(t, conn, `{"type":"subscribe","resource":"boats","ref":"s1"}`)
	m = receive(t, conn)
	assert.Equal(t, push.MessageError, m.Type)
	assert.Equal(t, "resource not found", m.Error)
	assert.Equal(t, "s1", m.Ref)

	send(t, conn, `{"type":"subscribe","resource":"by-make","params":{"prefix":"S%"},"ref":"s2"}`)
	m = receive(t, conn)
	assert.Equal(t, push.MessageError, m.Type)
	assert.Contains(t, m.Error, "push")

	send(t, conn, `{"type":"subscribe","resource":"cars","params":{"id":"seven"},"ref":"s3"}`)
	m = receive(t, conn)
	assert.Equal(t, push.MessageError, m.Type)
	assert.Equal(t, "s3", m.Ref)

	send(t, conn, `{"type":"subscribe","resource":"cars","params":{"make":"Saab"},"ref":"s4"}`)
	m = receive(t, conn)
	require.Equal(t, push.MessageSubscribed, m.Type, m.Error)
	assert.Equal(t, "cars", m.Resource)
	assert.Equal(t, "s4", m.Ref)
	job := m.Job
	require.NotEmpty(t, job)
	require.Len(t, env.resources.Jobs(), 1)

	send(t, conn, `{"type":"unsubscribe","job":"`+job+`","ref":"u1"}`)
	assert.Equal(t, push.Message{Type: push.MessageUnsubscribed, Job: job, Ref: "u1"}, receive(t, conn))

	send(t, conn, `{"type":"unsubscribe","job":"`+job+`","ref":"u2"}`)
	assert.Equal(t, "not subscribed to job", receive(t, conn).Error)

	require.Eventually(t, func() bool { return len(env.resources.Jobs()) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestPushHandler_ChangeNotification(t *testing.T) {
	env := newTestEnv(t, "20ms")
	srv, conn := dialPush(t, env)

	send(t, conn, `{"type":"subscribe","resource":"cars"}`)
	m := receive(t, conn)
	require.Equal(t, push.MessageSubscribed, m.Type, m.Error)
	job := m.Job

	// Wait for the baseline poll before changing the table.
	require.Eventually(t, func() bool {
		jobs := env.resources.Jobs()
		return len(jobs) == 1 && jobs[0].Digest != ""
	}, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Post(srv.URL+"/cars", "application/json",
		strings.NewReader(`{"make":"Kia","model":"Rio","mpg":35,"price":"15999.99"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	m = receive(t, conn)
	assert.Equal(t, push.MessageChange, m.Type)
	assert.Equal(t, job, m.Job)
	assert.Equal(t, "cars", m.Resource)
	assert.NotEmpty(t, m.Digest)
}

func TestPushHandler_DisconnectEndsSubscriptions(t *testing.T) {
	env := newTestEnv(t, "1h")
	_, conn := dialPush(t, env)

	send(t, conn, `{"type":"subscribe","resource":"cars"}`)
	require.Equal(t, push.MessageSubscribed, receive(t, conn).Type)
	require.Len(t, env.resources.Jobs(), 1)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return len(env.resources.Jobs()) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestPushHandler_RejectsPlainHTTP(t *testing.T) {
	env := newTestEnv(t, "1h")
	rec := env.do(t, http.MethodGet, "/ws", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
