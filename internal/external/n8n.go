package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"zecu/internal/config"
	"zecu/internal/types"
)

// N8NClient dispatches WhatsApp messages through the n8n automation webhook.
// Implements auth.CodeDispatcher.
type N8NClient struct {
	base       *BaseClient
	sendOTPURL string
}

// NewN8NClient builds a client from configuration.
func NewN8NClient(cfg config.N8NConfig) *N8NClient {
	return &N8NClient{
		base: NewBaseClient(
			&http.Client{Timeout: cfg.Timeout},
			"n8n",
			DefaultRetryPolicy(),
			cfg.UserAgent,
		),
		sendOTPURL: cfg.SendOTPURL,
	}
}

// sendOTPPayload is the message contract with the n8n workflow.
type sendOTPPayload struct {
	Phone         string `json:"phone"`
	Name          string `json:"name,omitempty"`
	Code          string `json:"code"`
	ExpiresInMins int    `json:"expires_in_minutes"`
}

// SendOTP asks the workflow to deliver a login code to the phone. A non-2xx
// answer from the workflow maps to ErrCodeDispatchFailed so the API layer
// can distinguish "code not delivered" from internal failures.
func (c *N8NClient) SendOTP(ctx context.Context, phone, name, code string, expiresIn time.Duration) error {
	body, err := json.Marshal(sendOTPPayload{
		Phone:         phone,
		Name:          name,
		Code:          code,
		ExpiresInMins: int(expiresIn.Minutes()),
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode otp dispatch", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendOTPURL, bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build otp dispatch request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return types.NewAppError(types.ErrCodeDispatchFailed, "otp dispatch request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.NewAppError(
			types.ErrCodeDispatchFailed,
			fmt.Sprintf("otp dispatch workflow returned %d", resp.StatusCode),
			nil,
		)
	}
	return nil
}
