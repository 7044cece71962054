package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"zecu/internal/config"
	"zecu/internal/types"
)

// MercadoPagoClient talks to the Mercado Pago REST API: creating checkout
// preferences and re-fetching payments during webhook reconciliation.
type MercadoPagoClient struct {
	base    *BaseClient
	baseURL string
	token   types.SecretString
}

// NewMercadoPagoClient builds a client from configuration. Payment fetches
// on the webhook path must finish inside the provider's delivery timeout, so
// the HTTP timeout is short and retries are disabled; Mercado Pago's own
// webhook redelivery covers transient failures.
func NewMercadoPagoClient(cfg config.MercadoPagoConfig) *MercadoPagoClient {
	return &MercadoPagoClient{
		base: NewBaseClient(
			&http.Client{Timeout: cfg.Timeout},
			"mercadopago",
			NoRetryPolicy(),
			"Zecu/1.0",
		),
		baseURL: cfg.BaseURL,
		token:   cfg.AccessToken,
	}
}

// PreferenceItem is one line item on a checkout preference.
type PreferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

// PreferenceRequest is the payload for creating a checkout preference.
// Metadata is the primary reconciliation channel: the webhook handler reads
// user_id, user_phone, and plan back from the payment.
type PreferenceRequest struct {
	Items             []PreferenceItem  `json:"items"`
	Metadata          map[string]string `json:"metadata"`
	ExternalReference string            `json:"external_reference,omitempty"`
	NotificationURL   string            `json:"notification_url,omitempty"`
	BackURLs          *BackURLs         `json:"back_urls,omitempty"`
	AutoReturn        string            `json:"auto_return,omitempty"`
}

// BackURLs are the post-checkout redirect targets.
type BackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

// Preference is the provider's response to a created checkout preference.
type Preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// PaymentPhone is the payer phone block as reported by the provider.
type PaymentPhone struct {
	AreaCode string `json:"area_code"`
	Number   string `json:"number"`
}

// PaymentPayer is the payer identity attached to a payment.
type PaymentPayer struct {
	Email string       `json:"email"`
	Phone PaymentPhone `json:"phone"`
}

// Payment is the subset of the provider's payment resource the
// reconciliation flow reads. Metadata values are declared as any because
// the provider round-trips numbers and strings inconsistently.
type Payment struct {
	ID                int64          `json:"id"`
	Status            string         `json:"status"`
	StatusDetail      string         `json:"status_detail"`
	TransactionAmount float64        `json:"transaction_amount"`
	CurrencyID        string         `json:"currency_id"`
	ExternalReference string         `json:"external_reference"`
	Metadata          map[string]any `json:"metadata"`
	Payer             PaymentPayer   `json:"payer"`
	AdditionalInfo    struct {
		Payer struct {
			FirstName string       `json:"first_name"`
			Phone     PaymentPhone `json:"phone"`
		} `json:"payer"`
	} `json:"additional_info"`
}

// MetadataString reads a metadata value as a string, tolerating the
// provider's habit of returning numeric values for fields submitted as
// strings.
func (p *Payment) MetadataString(key string) string {
	v, ok := p.Metadata[key]
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return fmt.Sprintf("%.0f", val)
	default:
		return ""
	}
}

// CreatePreference registers a checkout preference and returns the hosted
// checkout URL material.
func (c *MercadoPagoClient) CreatePreference(ctx context.Context, pref *PreferenceRequest) (*Preference, error) {
	body, err := json.Marshal(pref)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode preference", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkout/preferences", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build preference request", err)
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
			fmt.Sprintf("mercadopago preference creation returned %d", resp.StatusCode),
			nil,
		)
	}

	var created Preference
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, types.NewAppError(types.ErrCodePaymentProvider, "failed to decode preference response", err)
	}
	return &created, nil
}

// GetPayment fetches a payment by its numeric ID. The webhook handler always
// re-fetches instead of trusting the notification payload.
func (c *MercadoPagoClient) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payments/"+paymentID, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build payment request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, types.NewAppError(types.ErrCodePaymentProvider, "payment not found at provider", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(
			types.ErrCodePaymentProvider,
			fmt.Sprintf("mercadopago payment fetch returned %d", resp.StatusCode),
			nil,
		)
	}

	var payment Payment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return nil, types.NewAppError(types.ErrCodePaymentProvider, "failed to decode payment response", err)
	}
	return &payment, nil
}
