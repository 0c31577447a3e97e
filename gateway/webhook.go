package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Notifier posts gateway events to external HTTP endpoints: credit results
// to per-request callback URLs, inbound messages to the configured
// forwarding endpoint. All requests are bounded by the client timeout; a
// stuck downstream must not wedge a poll cycle.
type Notifier struct {
	client *http.Client
}

func NewNotifier(timeout time.Duration) *Notifier {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{client: &http.Client{Timeout: timeout}}
}

// CreditResult delivers a resolved credit request to its callback URL.
func (n *Notifier) CreditResult(ctx context.Context, callbackURL string, requestID int64, credit float64, expiration time.Time) error {
	return n.post(ctx, callbackURL, struct {
		CreditRequestID  int64   `json:"credit_request_id"`
		Credit           float64 `json:"credit"`
		CreditExpiration string  `json:"credit_expiration"`
	}{
		CreditRequestID:  requestID,
		Credit:           credit,
		CreditExpiration: expiration.Format("2006-01-02 15:04:05"),
	})
}

// ForwardIncoming delivers one received message to the forwarding endpoint.
func (n *Notifier) ForwardIncoming(ctx context.Context, endpoint, token, from, to, message string) error {
	return n.post(ctx, endpoint, struct {
		Token   string `json:"token"`
		From    string `json:"from"`
		To      string `json:"to"`
		Message string `json:"message"`
	}{
		Token:   token,
		From:    from,
		To:      to,
		Message: message,
	})
}

func (n *Notifier) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s answered %d", ErrCallbackRejected, url, resp.StatusCode)
	}
	return nil
}
