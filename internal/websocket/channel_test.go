package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ai-qa-sync/internal/dto"
	"ai-qa-sync/internal/pkg/apperror"
	"ai-qa-sync/internal/pkg/logger"

	fastws "github.com/fasthttp/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func intPtr(v int) *int { return &v }

type pushServer struct {
	*httptest.Server
	pings atomic.Int32
	token atomic.Value
}

// newPushServer sends frames, then keeps answering pings until closeAfter
// elapses, then closes without a terminal frame.
func newPushServer(t *testing.T, frames []dto.PushMessage, closeAfter time.Duration) *pushServer {
	t.Helper()
	ps := &pushServer{}
	upgrader := fastws.Upgrader{}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.token.Store(r.URL.Query().Get("token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, f := range frames {
			data, _ := json.Marshal(f)
			if err := conn.WriteMessage(fastws.TextMessage, data); err != nil {
				return
			}
		}

		deadline := time.Now().Add(closeAfter)
		for time.Now().Before(deadline) {
			conn.SetReadDeadline(deadline)
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var msg dto.PushMessage
			if json.Unmarshal(data, &msg) == nil && msg.Type == dto.PushTypePing {
				ps.pings.Add(1)
				pong, _ := json.Marshal(dto.PushMessage{Type: dto.PushTypePong})
				_ = conn.WriteMessage(fastws.TextMessage, pong)
			}
		}
		_ = conn.WriteMessage(fastws.CloseMessage, fastws.FormatCloseMessage(fastws.CloseGoingAway, "maintenance"))
	}))
	return ps
}

func (ps *pushServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ps.URL, "http")
}

func TestChannelDeliversFramesAndHeartbeats(t *testing.T) {
	srv := newPushServer(t, []dto.PushMessage{
		{Type: dto.PushTypeStatus, Status: "embedding", Progress: intPtr(55)},
	}, 120*time.Millisecond)
	defer srv.Close()

	d := NewDialer(srv.wsURL(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "a-1"}), logger.NewNopLogger())
	ch, err := d.Dial(context.Background(), "job-1")
	require.NoError(t, err)

	var frames []dto.PushMessage
	err = ch.Run(context.Background(), 20*time.Millisecond, func(msg dto.PushMessage) bool {
		frames = append(frames, msg)
		return false
	})

	require.Error(t, err, "server closed before a terminal frame")
	assert.ErrorIs(t, err, apperror.ErrTransport)
	require.NotEmpty(t, frames)
	assert.Equal(t, "embedding", frames[0].Status)
	assert.Equal(t, 55, *frames[0].Progress)
	assert.GreaterOrEqual(t, srv.pings.Load(), int32(2))
	assert.Equal(t, "a-1", srv.token.Load())
}

func TestChannelStopsWhenHandlerIsDone(t *testing.T) {
	srv := newPushServer(t, []dto.PushMessage{
		{Type: dto.PushTypeStatus, Status: "finalizing", Progress: intPtr(90)},
		{Type: dto.PushTypeStatus, Status: "completed", Progress: intPtr(100)},
	}, time.Second)
	defer srv.Close()

	d := NewDialer(srv.wsURL(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "a-1"}), logger.NewNopLogger())
	ch, err := d.Dial(context.Background(), "job-1")
	require.NoError(t, err)

	err = ch.Run(context.Background(), time.Second, func(msg dto.PushMessage) bool {
		return msg.Status == "completed"
	})
	assert.NoError(t, err)
}

func TestDialFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	d := NewDialer(url, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "a-1"}), logger.NewNopLogger())
	_, err := d.Dial(context.Background(), "job-1")
	assert.ErrorIs(t, err, apperror.ErrTransport)
}
