package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ai-qa-sync/internal/dto"
	"ai-qa-sync/internal/pkg/apperror"
	"ai-qa-sync/internal/pkg/logger"
)

const moduleAPIClient = "APIClient"

const (
	endpointLogin      = "/api/auth/login"
	endpointRefresh    = "/api/auth/refresh"
	endpointLogout     = "/api/auth/logout"
	endpointChatStream = "/api/chat/stream"
	endpointDocuments  = "/api/documents"
	endpointJobStatus  = "/api/jobs/%s/status"
)

const maxErrorBody = 64 << 10

// TokenProvider is the part of AuthGate the request layer needs.
type TokenProvider interface {
	ValidToken(ctx context.Context) (string, error)
	EnsureValid(ctx context.Context, staleToken string) (string, error)
}

// RequestBuilder makes a fresh request for each attempt. The token is the one
// the attempt will carry; the Authorization header is set by the client.
type RequestBuilder func(token string) (*http.Request, error)

// APIClient sends authenticated calls. A 401 goes through the gate once and
// the call is retried with whatever token the gate settled on.
type APIClient struct {
	baseURL    string
	http       *http.Client
	streamHTTP *http.Client
	tokens     TokenProvider
	logger     logger.ILogger
}

func NewAPIClient(baseURL string, timeout time.Duration, tokens TokenProvider, log logger.ILogger) *APIClient {
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: timeout},
		streamHTTP: &http.Client{},
		tokens:     tokens,
		logger:     log,
	}
}

// Do runs build through the token gate. Non-2xx responses other than the
// handled 401 come back untouched.
func (c *APIClient) Do(ctx context.Context, build RequestBuilder) (*http.Response, error) {
	return c.do(ctx, c.http, build)
}

func (c *APIClient) do(ctx context.Context, client *http.Client, build RequestBuilder) (*http.Response, error) {
	token, err := c.tokens.ValidToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, client, build, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drainAndClose(resp)

	c.logger.Debug(moduleAPIClient, "Access token rejected, asking the gate", nil)
	fresh, err := c.tokens.EnsureValid(ctx, token)
	if err != nil {
		return nil, err
	}

	resp, err = c.send(ctx, client, build, fresh)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drainAndClose(resp)
		return nil, apperror.AuthExpired(resp.StatusCode)
	}
	return resp, nil
}

func (c *APIClient) send(ctx context.Context, client *http.Client, build RequestBuilder, token string) (*http.Response, error) {
	req, err := build(token)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, apperror.Transport(err)
	}
	return resp, nil
}

// OpenStream starts the streaming answer request. The caller owns the body
// and must check the status itself.
func (c *APIClient) OpenStream(ctx context.Context, req dto.AskRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, c.streamHTTP, func(token string) (*http.Request, error) {
		r, err := http.NewRequest(http.MethodPost, c.baseURL+endpointChatStream, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Accept", "text/plain")
		return r, nil
	})
}

// PollStatus fetches the job status once.
func (c *APIClient) PollStatus(ctx context.Context, jobId string) (*dto.JobStatusResponse, error) {
	endpoint := c.baseURL + fmt.Sprintf(endpointJobStatus, url.PathEscape(jobId))
	resp, err := c.Do(ctx, func(token string) (*http.Request, error) {
		return http.NewRequest(http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}

	var out dto.JobStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperror.Rejected(resp.StatusCode, "malformed status body")
	}
	if out.JobId == "" {
		out.JobId = jobId
	}
	return &out, nil
}

// UploadDocument sends the file at path for ingestion into targetId and
// returns the job that tracks it.
func (c *APIClient) UploadDocument(ctx context.Context, targetId, path string) (*dto.UploadDocumentResponse, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("target_id", targetId); err != nil {
		return nil, err
	}
	part, err := form.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := form.Close(); err != nil {
		return nil, err
	}
	payload := buf.Bytes()

	resp, err := c.Do(ctx, func(token string) (*http.Request, error) {
		r, err := http.NewRequest(http.MethodPost, c.baseURL+endpointDocuments, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", form.FormDataContentType())
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}

	var out dto.UploadDocumentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperror.Rejected(resp.StatusCode, "malformed upload response")
	}
	c.logger.Info(moduleAPIClient, "Document uploaded", map[string]interface{}{
		"job_id":    out.JobId,
		"target_id": targetId,
		"file":      out.Filename,
	})
	return &out, nil
}

// decodeError turns a non-2xx response into ErrServerRejected, keeping the
// server's message when it sent one.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body dto.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return apperror.Rejected(resp.StatusCode, body.Message)
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return apperror.Rejected(resp.StatusCode, msg)
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
