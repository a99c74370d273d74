package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ai-qa-sync/internal/bootstrap"
	"ai-qa-sync/internal/config"
	"ai-qa-sync/internal/dto"
	"ai-qa-sync/internal/entity"
	"ai-qa-sync/internal/pkg/logger"
	"ai-qa-sync/internal/repository/memory"
	"ai-qa-sync/internal/service"
	"ai-qa-sync/internal/websocket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	demoEmail    = "student@example.com"
	demoPassword = "student123"
)

func testConfig() *config.Config {
	return &config.Config{
		Sandbox: config.SandboxConfig{
			Port:               "0",
			JWTSecret:          "test-secret",
			DemoEmail:          demoEmail,
			DemoPassword:       demoPassword,
			AccessTTL:          time.Minute,
			CorsAllowedOrigins: "*",
			StepDelay:          5 * time.Millisecond,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	container, err := bootstrap.NewSandboxContainer(ctx, cfg, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		container.Close()
	})
	return New(cfg, container)
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.GetApp().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func login(t *testing.T, srv *Server) dto.LoginResponse {
	t.Helper()
	resp := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", dto.LoginRequest{Email: demoEmail, Password: demoPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[dto.LoginResponse](t, resp)
}

func multipartUpload(t *testing.T, fields map[string]string, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, form.WriteField(k, v))
	}
	if filename != "" {
		part, err := form.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, form.Close())
	return &buf, form.FormDataContentType()
}

func TestAuthFlow(t *testing.T) {
	srv := newTestServer(t, testConfig())

	t.Run("wrong password", func(t *testing.T) {
		resp := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", dto.LoginRequest{Email: demoEmail, Password: "nope"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		body := decode[dto.ErrorResponse](t, resp)
		assert.False(t, body.Success)
		assert.Equal(t, http.StatusUnauthorized, body.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		resp := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", dto.LoginRequest{Email: "not-an-email"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("login refresh logout", func(t *testing.T) {
		tokens := login(t, srv)
		assert.NotEmpty(t, tokens.AccessToken)
		assert.NotEmpty(t, tokens.RefreshToken)

		resp := doJSON(t, srv, http.MethodPost, "/api/auth/refresh", "", dto.RefreshRequest{RefreshToken: tokens.RefreshToken})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		refreshed := decode[dto.RefreshResponse](t, resp)
		assert.NotEmpty(t, refreshed.AccessToken)

		resp = doJSON(t, srv, http.MethodPost, "/api/auth/logout", "", dto.LogoutRequest{RefreshToken: tokens.RefreshToken})
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doJSON(t, srv, http.MethodPost, "/api/auth/refresh", "", dto.RefreshRequest{RefreshToken: tokens.RefreshToken})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestChatStreamRequiresToken(t *testing.T) {
	srv := newTestServer(t, testConfig())
	resp := doJSON(t, srv, http.MethodPost, "/api/chat/stream", "", dto.AskRequest{TargetId: bootstrap.DemoTarget, Question: "What is a mole?"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodPost, "/api/chat/stream", "garbage", dto.AskRequest{TargetId: bootstrap.DemoTarget, Question: "What is a mole?"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChatStreamAnswersFromDocuments(t *testing.T) {
	srv := newTestServer(t, testConfig())
	token := login(t, srv).AccessToken

	ask := dto.AskRequest{TargetId: bootstrap.DemoTarget, Question: "What is a mole?"}
	resp := doJSON(t, srv, http.MethodPost, "/api/chat/stream", token, ask)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Contains(t, string(body), "Avogadro")
	assert.Equal(t, "false", resp.Header.Get(dto.HeaderAnswerCached))
	var sources []entity.Source
	require.NoError(t, json.Unmarshal([]byte(resp.Header.Get(dto.HeaderAnswerSources)), &sources))
	assert.NotEmpty(t, sources)

	resp = doJSON(t, srv, http.MethodPost, "/api/chat/stream", token, ask)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, "true", resp.Header.Get(dto.HeaderAnswerCached))

	resp = doJSON(t, srv, http.MethodPost, "/api/chat/stream", token, dto.AskRequest{TargetId: bootstrap.DemoTarget})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadAndPollStatus(t *testing.T) {
	srv := newTestServer(t, testConfig())
	token := login(t, srv).AccessToken

	body, contentType := multipartUpload(t, map[string]string{"target_id": "bio-101"}, "cells.txt",
		"The mitochondria is the powerhouse of the cell. Ribosomes build proteins.")
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := srv.GetApp().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	upload := decode[dto.UploadDocumentResponse](t, resp)
	assert.Equal(t, "bio-101", upload.TargetId)
	assert.Equal(t, "cells.txt", upload.Filename)
	require.NotEmpty(t, upload.JobId)

	assert.Eventually(t, func() bool {
		resp := doJSON(t, srv, http.MethodGet, "/api/jobs/"+upload.JobId+"/status", token, nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		return decode[dto.JobStatusResponse](t, resp).Status == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	resp = doJSON(t, srv, http.MethodGet, "/api/jobs/unknown/status", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadValidation(t *testing.T) {
	srv := newTestServer(t, testConfig())
	token := login(t, srv).AccessToken

	tests := []struct {
		name     string
		fields   map[string]string
		filename string
	}{
		{name: "missing target", fields: map[string]string{}, filename: "a.txt"},
		{name: "missing file", fields: map[string]string{"target_id": "t"}},
		{name: "bad drop_push_at", fields: map[string]string{"target_id": "t", "drop_push_at": "soon"}, filename: "a.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartUpload(t, tt.fields, tt.filename, "text")
			req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Authorization", "Bearer "+token)
			resp, err := srv.GetApp().Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

// The client stack against a live sandbox: push drops mid-job, tracking
// finishes over polling, then the new document answers questions.
func TestClientAgainstSandbox(t *testing.T) {
	cfg := testConfig()
	cfg.Sandbox.StepDelay = 60 * time.Millisecond
	srv := newTestServer(t, cfg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.GetApp().Listener(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })
	baseURL := "http://" + ln.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log := logger.NewNopLogger()

	authAPI := service.NewAuthAPI(baseURL, time.Second)
	cred, err := authAPI.Login(ctx, demoEmail, demoPassword)
	require.NoError(t, err)
	gate := service.NewAuthGate(memory.NewCredentialRepository(), authAPI, log, service.GateConfig{RefreshTimeout: time.Second}, nil)
	require.NoError(t, gate.SignIn(ctx, cred))
	client := service.NewAPIClient(baseURL, time.Second, gate, log)

	// 60 words -> 2 chunks: embedding reaches 60 then 90.
	doc := strings.Repeat("Photosynthesis converts light energy into chemical energy in plants. ", 6)
	body, contentType := multipartUpload(t, map[string]string{"target_id": "bio-101", "drop_push_at": "60"}, "plants.txt", doc)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/documents", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	upload := decode[dto.UploadDocumentResponse](t, resp)

	dialer := websocket.NewDialer("ws://"+ln.Addr().String(), gate, log)
	connector := service.PushConnectorFunc(func(ctx context.Context, jobId string) (service.PushChannel, error) {
		return dialer.Dial(ctx, jobId)
	})
	tracker := service.NewJobTracker(connector, client, service.TrackerConfig{
		HeartbeatInterval: time.Second,
		PollInterval:      10 * time.Millisecond,
		MaxPollAttempts:   300,
	}, log, nil)

	h, err := tracker.Track(ctx, upload.JobId)
	require.NoError(t, err)
	var evs []service.JobEvent
	for {
		ev, ok := h.Next(ctx)
		if !ok {
			break
		}
		evs = append(evs, ev)
	}

	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, entity.PhaseCompleted, last.Status.Phase)
	assert.Equal(t, service.SourcePoll, last.Source)
	assert.Equal(t, service.SourcePush, evs[0].Source)
	for i := 1; i < len(evs); i++ {
		assert.GreaterOrEqual(t, evs[i].Status.Progress, evs[i-1].Status.Progress)
	}

	chat := service.NewChatService(service.NewStreamConsumer(client, log), 0, log, nil)
	turn, err := chat.Ask(ctx, "bio-101", "What does photosynthesis convert?")
	require.NoError(t, err)
	select {
	case <-turn.Done():
	case <-ctx.Done():
		t.Fatal("answer did not settle")
	}
	answer := chat.Conversation("bio-101").Snapshot().Messages[1]
	assert.Contains(t, answer.Content, "light energy")
	assert.False(t, answer.Streaming)
}
