package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fare-alerts/internal/domain"
)

// Push delivers alerts through an external push gateway. The gateway owns
// device payloads and receipts; this client only reports success or failure.
type Push struct {
	baseURL    string
	secret     string
	devices    domain.DeviceRepo
	httpClient *http.Client
}

var _ domain.Notifier = (*Push)(nil)

// NewPush creates the gateway client.
func NewPush(baseURL, secret string, devices domain.DeviceRepo) *Push {
	return &Push{
		baseURL:    baseURL,
		secret:     secret,
		devices:    devices,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type pushRequest struct {
	UserID   string   `json:"user_id"`
	Tokens   []string `json:"tokens"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	DeepLink string   `json:"deep_link,omitempty"`
}

// Notify sends one deal alert to every device the user registered.
func (p *Push) Notify(ctx context.Context, user domain.UserProfile, deal domain.Deal) error {
	devices, err := p.devices.ListDevices(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	if len(devices) == 0 {
		return fmt.Errorf("user %s has no registered devices", user.ID)
	}

	tokens := make([]string, 0, len(devices))
	for _, d := range devices {
		tokens = append(tokens, d.Token)
	}

	payload, err := json.Marshal(pushRequest{
		UserID:   user.ID.String(),
		Tokens:   tokens,
		Title:    fmt.Sprintf("%s → %s for %s %s", deal.Origin, deal.Destination, deal.TotalPrice.StringFixed(0), deal.Currency),
		Body:     alertBody(deal),
		DeepLink: deal.DeepLink,
	})
	if err != nil {
		return fmt.Errorf("marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/push", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.secret != "" {
		req.Header.Set("Authorization", "Bearer "+p.secret)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push gateway returned %d: %s", resp.StatusCode, body)
	}
	return nil
}

func alertBody(deal domain.Deal) string {
	body := fmt.Sprintf("%s, %d%% off the usual price", deal.Airline, deal.DiscountPercent)
	if deal.Stops == 0 {
		body += ", nonstop"
	}
	return body
}
