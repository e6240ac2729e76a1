package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/Synergyfy/latap-messaging/internal/core"
)

// GatewayConfig points an adapter at the external gateway. An empty BaseURL
// means no gateway is provisioned for the channel; sends then succeed with a
// simulated provider id so local environments work without credentials.
type GatewayConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func (c GatewayConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 10 * time.Second
}

type gatewayAdapter struct {
	channel core.Channel
	path    string
	cfg     GatewayConfig
	client  *http.Client
}

// NewSMS returns the adapter for the text-message channel.
func NewSMS(cfg GatewayConfig) Adapter {
	return newGatewayAdapter(core.ChannelSMS, "/sms/1/text/single", cfg)
}

// NewWhatsApp returns the adapter for the chat-app channel.
func NewWhatsApp(cfg GatewayConfig) Adapter {
	return newGatewayAdapter(core.ChannelWhatsApp, "/whatsapp/1/message/text", cfg)
}

// NewEmail returns the adapter for the email channel.
func NewEmail(cfg GatewayConfig) Adapter {
	return newGatewayAdapter(core.ChannelEmail, "/email/1/send", cfg)
}

func newGatewayAdapter(ch core.Channel, path string, cfg GatewayConfig) Adapter {
	return &gatewayAdapter{
		channel: ch,
		path:    path,
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.timeout()},
	}
}

func (a *gatewayAdapter) Channel() core.Channel { return a.channel }

func (a *gatewayAdapter) Send(ctx context.Context, from, to, body string) (string, error) {
	if a.cfg.BaseURL == "" {
		return simulatedID(a.channel), nil
	}

	payload, err := json.Marshal(map[string]string{
		"from": from,
		"to":   to,
		"text": body,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+a.path, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "App "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	var out struct {
		MessageID string `json:"messageId"`
		Messages  []struct {
			MessageID string `json:"messageId"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.MessageID != "" {
		return out.MessageID, nil
	}
	if len(out.Messages) > 0 {
		return out.Messages[0].MessageID, nil
	}
	return "", fmt.Errorf("gateway response missing messageId")
}

func simulatedID(ch core.Channel) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 12)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return "sim-" + string(ch) + "-" + string(b)
}
