package external

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"zecu/internal/config"
	"zecu/internal/types"
)

// webhookTolerance bounds how stale a signed webhook timestamp may be.
const webhookTolerance = 5 * time.Minute

// PolarClient talks to the Polar.sh API for checkout creation and verifies
// inbound webhook signatures per the Standard Webhooks scheme Polar uses.
type PolarClient struct {
	base          *BaseClient
	baseURL       string
	token         types.SecretString
	webhookSecret types.SecretString
	clock         types.Clock
}

// NewPolarClient builds a client from configuration.
func NewPolarClient(cfg config.PolarConfig) *PolarClient {
	return &PolarClient{
		base: NewBaseClient(
			&http.Client{Timeout: 10 * time.Second},
			"polar",
			DefaultRetryPolicy(),
			"Zecu/1.0",
		),
		baseURL:       cfg.BaseURL,
		token:         cfg.AccessToken,
		webhookSecret: cfg.WebhookSecret,
		clock:         types.RealClock{},
	}
}

// CheckoutRequest is the payload for creating a hosted checkout session.
// Metadata carries the reconciliation keys the webhook handler reads back.
type CheckoutRequest struct {
	ProductID     string            `json:"product_id"`
	SuccessURL    string            `json:"success_url,omitempty"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	Metadata      map[string]string `json:"metadata"`
}

// Checkout is the provider's checkout session resource.
type Checkout struct {
	ID       string            `json:"id"`
	URL      string            `json:"url"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

// CreateCheckout registers a checkout session and returns the hosted URL.
func (c *PolarClient) CreateCheckout(ctx context.Context, checkout *CheckoutRequest) (*Checkout, error) {
	body, err := json.Marshal(checkout)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode checkout", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkouts/", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build checkout request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(
			types.ErrCodePaymentProvider,
			fmt.Sprintf("polar checkout creation returned %d", resp.StatusCode),
			nil,
		)
	}

	var created Checkout
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, types.NewAppError(types.ErrCodePaymentProvider, "failed to decode checkout response", err)
	}
	return &created, nil
}

// VerifyWebhookSignature checks a Standard Webhooks signature: HMAC-SHA256
// over "<webhook-id>.<webhook-timestamp>.<body>", keyed with the base64
// secret after its "whsec_" prefix. The webhook-signature header may carry
// several space-separated "v1,<base64>" candidates; any single match passes.
func (c *PolarClient) VerifyWebhookSignature(id, timestamp, signatureHeader string, body []byte) error {
	if id == "" || timestamp == "" || signatureHeader == "" {
		return types.NewAppError(types.ErrCodeValidationFailed, "missing webhook signature headers", nil)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return types.NewAppError(types.ErrCodeValidationFailed, "invalid webhook timestamp", err)
	}
	now := c.clock.Now()
	sent := time.Unix(ts, 0)
	if sent.Before(now.Add(-webhookTolerance)) || sent.After(now.Add(webhookTolerance)) {
		return types.NewAppError(types.ErrCodeValidationFailed, "webhook timestamp outside tolerance", nil)
	}

	secret := strings.TrimPrefix(c.webhookSecret.Unmask(), "whsec_")
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "malformed webhook secret", err)
	}

	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%s.", id, timestamp)
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, candidate := range strings.Fields(signatureHeader) {
		parts := strings.SplitN(candidate, ",", 2)
		if len(parts) != 2 || parts[0] != "v1" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(expected)) == 1 {
			return nil
		}
	}

	return types.NewAppError(types.ErrCodeValidationFailed, "webhook signature mismatch", nil)
}
