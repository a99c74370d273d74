package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ai-qa-sync/internal/dto"
	"ai-qa-sync/internal/pkg/apperror"
	"ai-qa-sync/internal/pkg/logger"

	fastws "github.com/fasthttp/websocket"
	"golang.org/x/oauth2"
)

const modulePush = "PushChannel"

// Dialer opens job status push channels at {base}/ws/jobs/{jobId}.
type Dialer struct {
	baseURL string
	tokens  oauth2.TokenSource
	dialer  *fastws.Dialer
	logger  logger.ILogger
}

func NewDialer(baseURL string, tokens oauth2.TokenSource, log logger.ILogger) *Dialer {
	return &Dialer{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		dialer: &fastws.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger: log,
	}
}

func (d *Dialer) Dial(ctx context.Context, jobId string) (*Channel, error) {
	tok, err := d.tokens.Token()
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/ws/jobs/%s?token=%s", d.baseURL, url.PathEscape(jobId), url.QueryEscape(tok.AccessToken))
	conn, resp, err := d.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return nil, apperror.Rejected(resp.StatusCode, "push channel handshake refused")
		}
		return nil, apperror.Transport(err)
	}

	d.logger.Debug(modulePush, "Push channel open", map[string]interface{}{"job_id": jobId})
	return &Channel{conn: conn, jobId: jobId, logger: d.logger}, nil
}

// Channel is one open push connection. Only Run writes to it.
type Channel struct {
	conn   *fastws.Conn
	jobId  string
	logger logger.ILogger
}

type readResult struct {
	msg dto.PushMessage
	err error
}

// Run delivers frames to handle until handle returns true or ctx ends, both
// of which return nil. A heartbeat goes out every interval; two silent
// intervals, a read error or a close from the server return an error.
func (ch *Channel) Run(ctx context.Context, heartbeat time.Duration, handle func(dto.PushMessage) bool) error {
	stop := make(chan struct{})
	defer func() {
		close(stop)
		ch.conn.Close()
	}()

	reads := make(chan readResult)
	go ch.readPump(heartbeat, reads, stop)

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ch.closeGracefully()
			return nil

		case r := <-reads:
			if r.err != nil {
				return r.err
			}
			if handle(r.msg) {
				ch.closeGracefully()
				return nil
			}

		case <-ticker.C:
			if err := ch.write(dto.PushMessage{Type: dto.PushTypePing}); err != nil {
				return apperror.Transport(err)
			}
		}
	}
}

func (ch *Channel) readPump(heartbeat time.Duration, out chan<- readResult, stop <-chan struct{}) {
	deadline := 2*heartbeat + time.Second
	for {
		ch.conn.SetReadDeadline(time.Now().Add(deadline))
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			select {
			case out <- readResult{err: apperror.Transport(err)}:
			case <-stop:
			}
			return
		}

		var msg dto.PushMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			ch.logger.Warn(modulePush, "Dropping malformed frame", map[string]interface{}{
				"job_id": ch.jobId,
				"error":  err.Error(),
			})
			continue
		}

		select {
		case out <- readResult{msg: msg}:
		case <-stop:
			return
		}
	}
}

func (ch *Channel) write(msg dto.PushMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ch.conn.WriteMessage(fastws.TextMessage, data)
}

func (ch *Channel) closeGracefully() {
	_ = ch.conn.WriteControl(
		fastws.CloseMessage,
		fastws.FormatCloseMessage(fastws.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
}
