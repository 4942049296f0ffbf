package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gatewaydomain "github.com/bookline-app/bookline/internal/gateway/domain"
)

type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	Mode              string            `json:"mode"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	PaymentIntent     string            `json:"payment_intent"`
	ClientReferenceID string            `json:"client_reference_id"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	Metadata          map[string]string `json:"metadata"`
}

type stripePaymentIntent struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

type stripeRefund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client talks to the Stripe REST API with form-encoded requests.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewClient(apiKey string, baseURL string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.stripe.com"
	}
	return &Client{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 12 * time.Second},
	}
}

func (c *Client) CreateCheckoutSession(ctx context.Context, params gatewaydomain.CheckoutSessionParams) (*gatewaydomain.CheckoutSession, error) {
	values := url.Values{}
	values.Set("mode", "payment")
	values.Set("success_url", params.SuccessURL)
	values.Set("cancel_url", params.CancelURL)
	values.Set("client_reference_id", params.ClientReferenceID)
	if params.CustomerEmail != "" {
		values.Set("customer_email", params.CustomerEmail)
	}
	if params.ExpiresAt != nil {
		values.Set("expires_at", strconv.FormatInt(params.ExpiresAt.Unix(), 10))
	}

	values.Set("line_items[0][quantity]", "1")
	values.Set("line_items[0][price_data][currency]", strings.ToLower(params.Currency))
	values.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(params.AmountTotal, 10))
	values.Set("line_items[0][price_data][product_data][name]", params.ProductName)

	// Metadata goes on the session and is duplicated onto the payment
	// intent; several event payloads carry only the intent object.
	for key, value := range params.Metadata {
		values.Set("metadata["+key+"]", value)
		values.Set("payment_intent_data[metadata]["+key+"]", value)
	}

	if params.DestinationAccount != "" && params.TransferAmount > 0 {
		values.Set("payment_intent_data[transfer_data][destination]", params.DestinationAccount)
		values.Set("payment_intent_data[transfer_data][amount]", strconv.FormatInt(params.TransferAmount, 10))
	}

	var session stripeCheckoutSession
	if err := c.doRequest(ctx, http.MethodPost, "/v1/checkout/sessions", values, params.ClientReferenceID, &session); err != nil {
		return nil, err
	}
	return sessionFromStripe(session), nil
}

func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string) (*gatewaydomain.CheckoutSession, error) {
	var session stripeCheckoutSession
	if err := c.doRequest(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil, "", &session); err != nil {
		return nil, err
	}
	return sessionFromStripe(session), nil
}

func (c *Client) GetPaymentIntent(ctx context.Context, intentID string) (*gatewaydomain.PaymentIntent, error) {
	var intent stripePaymentIntent
	if err := c.doRequest(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(intentID), nil, "", &intent); err != nil {
		return nil, err
	}
	return intentFromStripe(intent), nil
}

func (c *Client) CreateRefund(ctx context.Context, params gatewaydomain.RefundParams) (*gatewaydomain.Refund, error) {
	values := url.Values{}
	values.Set("payment_intent", params.PaymentIntentID)
	values.Set("amount", strconv.FormatInt(params.Amount, 10))
	if params.Reason != "" {
		values.Set("reason", params.Reason)
	}
	if params.ReverseTransfer {
		values.Set("reverse_transfer", "true")
	}

	var refund stripeRefund
	if err := c.doRequest(ctx, http.MethodPost, "/v1/refunds", values, params.IdempotencyKey, &refund); err != nil {
		return nil, err
	}
	return &gatewaydomain.Refund{ID: refund.ID, Status: refund.Status, Amount: refund.Amount}, nil
}

func (c *Client) doRequest(
	ctx context.Context,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
	out any,
) error {
	if c.apiKey == "" {
		return fmt.Errorf("%w: api key not configured", gatewaydomain.ErrUpstream)
	}
	var bodyReader *strings.Reader
	if values != nil {
		bodyReader = strings.NewReader(values.Encode())
	} else {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", gatewaydomain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr stripeErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil {
			return fmt.Errorf("%w: status %d", gatewaydomain.ErrUpstream, resp.StatusCode)
		}
		message := strings.TrimSpace(stripeErr.Error.Message)
		if message == "" {
			message = "request failed"
		}
		return fmt.Errorf("%w: %s", gatewaydomain.ErrUpstream, message)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func sessionFromStripe(s stripeCheckoutSession) *gatewaydomain.CheckoutSession {
	return &gatewaydomain.CheckoutSession{
		ID:                s.ID,
		URL:               s.URL,
		Mode:              s.Mode,
		Status:            s.Status,
		PaymentStatus:     s.PaymentStatus,
		PaymentIntentID:   s.PaymentIntent,
		ClientReferenceID: s.ClientReferenceID,
		AmountTotal:       s.AmountTotal,
		Currency:          strings.ToUpper(s.Currency),
		Metadata:          s.Metadata,
	}
}

func intentFromStripe(i stripePaymentIntent) *gatewaydomain.PaymentIntent {
	return &gatewaydomain.PaymentIntent{
		ID:       i.ID,
		Status:   i.Status,
		Amount:   i.Amount,
		Currency: strings.ToUpper(i.Currency),
		Metadata: i.Metadata,
	}
}
