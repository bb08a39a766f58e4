package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ignite/blast-orchestrator/internal/domain"
	"github.com/ignite/blast-orchestrator/internal/pkg/logger"
)

// GatewayClient talks to the chat gateway's v1 HTTP API. It is the reference
// ChatTransport; deployments with a different provider supply their own
// implementation.
type GatewayClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewGatewayClient creates a client for the gateway at baseURL. The timeout
// bounds each send attempt end to end.
func NewGatewayClient(baseURL, apiKey string, timeout time.Duration) *GatewayClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GatewayClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *GatewayClient) ExistsOnPlatform(ctx context.Context, address string) (bool, string, error) {
	u := fmt.Sprintf("%s/v1/contacts/check?address=%s", g.baseURL, url.QueryEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, "", err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return false, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return false, "", classifyStatus(resp.StatusCode, body)
	}

	var out struct {
		Exists bool   `json:"exists"`
		Handle string `json:"handle"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return false, "", fmt.Errorf("decode contact check: %w", err)
	}
	return out.Exists, out.Handle, nil
}

func (g *GatewayClient) Send(ctx context.Context, sr SendRequest) (SendResult, error) {
	payload, err := json.Marshal(map[string]string{
		"channel_id": sr.ChannelID,
		"address":    sr.Address,
		"body":       sr.Body,
	})
	if err != nil {
		return SendResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/v1/messages", bytes.NewBuffer(payload))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range sr.Headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return SendResult{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return SendResult{}, classifyStatus(resp.StatusCode, body)
	}

	var out struct {
		MessageID string `json:"message_id"`
	}
	json.Unmarshal(body, &out)

	logger.Debug("gateway send ok",
		"address", logger.RedactPhone(sr.Address), "message_id", out.MessageID)
	return SendResult{ProviderMessageID: out.MessageID}, nil
}

// classifyStatus maps a gateway HTTP status into the send-failure taxonomy.
func classifyStatus(status int, body []byte) *SendError {
	msg := fmt.Sprintf("gateway error %d: %s", status, truncate(body, 200))
	kind := domain.SendUnknown
	switch {
	case status == http.StatusTooManyRequests:
		kind = domain.SendRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = domain.SendPermissionRevoked
	case status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
		kind = domain.SendRecipientInvalid
	case status == http.StatusRequestTimeout || status >= 500:
		kind = domain.SendTransientNetwork
	}
	return &SendError{Kind: kind, StatusCode: status, Message: msg}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
