package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, srv *httptest.Server, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, resp, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):]+"/ws"+query, &websocket.DialOptions{HTTPHeader: header})
	if conn != nil {
		t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	}
	return conn, resp, err
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestWebSocketHandler(t *testing.T) {
	s := newTestStack(t)
	srv := httptest.NewServer(s.server.Handler())
	t.Cleanup(srv.Close)

	t.Run("rejects anonymous upgrade", func(t *testing.T) {
		_, resp, err := dialWS(t, srv, "", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("chat.start replies with queue position", func(t *testing.T) {
		conn, _, err := dialWS(t, srv, "", http.Header{"X-Forwarded-User": []string{"alice"}})
		require.NoError(t, err)
		assert.Equal(t, "connection.established", readFrame(t, conn)["type"])

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, conn.Write(ctx, websocket.MessageText,
			[]byte(`{"action":"chat.start","data":{"topic":"enrolment"}}`)))

		frame := readFrame(t, conn)
		assert.Equal(t, "notifications", frame["destination"])
		data, ok := frame["data"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "QUEUE_POSITION", data["type"])
		assert.EqualValues(t, 1, data["position"])
	})

	t.Run("query identity when allowed", func(t *testing.T) {
		conn, _, err := dialWS(t, srv, "?username=bob", nil)
		require.NoError(t, err)
		assert.Equal(t, "connection.established", readFrame(t, conn)["type"])
		assert.Eventually(t, func() bool { return s.manager.IsConnected("bob") }, 2*time.Second, 10*time.Millisecond)
	})
}
