// Package paypal implements the gateway against the PayPal REST v2 API.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mercatopro/mercato/internal/payment/domain"
	"github.com/mercatopro/mercato/internal/payment/gateway"
	"go.uber.org/zap"
)

const (
	sandboxBaseURL = "https://api-m.sandbox.paypal.com"
	liveBaseURL    = "https://api-m.paypal.com"

	// tokenSkew expires cached tokens early so a token never dies mid-call.
	tokenSkew      = 60 * time.Second
	defaultTimeout = 15 * time.Second
)

type Config struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	BaseURL      string
	Sandbox      bool
	Timeout      time.Duration
}

type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New fails fast on missing credentials so a misconfigured deployment dies
// at startup instead of at the first checkout.
func New(cfg Config, log *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, domain.ErrAuthConfig
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = liveBaseURL
		if cfg.Sandbox {
			baseURL = sandboxBaseURL
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.Named("gateway.paypal"),
	}, nil
}

func (c *Client) Provider() string { return "paypal" }

func (c *Client) CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.OrderHandle, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, domain.ErrInvalidCurrency
	}

	body := createOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			ReferenceID: req.Reference,
			Amount:      moneyOf(req.Amount, currency),
		}},
	}
	if req.ReturnURL != "" || req.CancelURL != "" {
		body.ApplicationContext = &applicationContext{
			ReturnURL: req.ReturnURL,
			CancelURL: req.CancelURL,
		}
	}

	var resp orderResponse
	if err := c.call(ctx, http.MethodPost, "/v2/checkout/orders", req.RequestID, body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, domain.ErrGatewayRejected
	}

	return &gateway.OrderHandle{
		OrderID:     resp.ID,
		ApprovalURL: resp.link("approve"),
	}, nil
}

func (c *Client) CaptureOrder(ctx context.Context, orderID string, requestID string) (*gateway.CaptureResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, domain.ErrGatewayRejected
	}

	var resp orderResponse
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", orderID)
	if err := c.call(ctx, http.MethodPost, path, requestID, struct{}{}, &resp); err != nil {
		return nil, err
	}

	capture := resp.firstCapture()
	if capture == nil || !strings.EqualFold(resp.Status, "COMPLETED") {
		return nil, domain.ErrGatewayRejected
	}
	amount, err := parseAmount(capture.Amount.Value)
	if err != nil {
		return nil, domain.ErrGatewayRejected
	}

	return &gateway.CaptureResult{
		CaptureID:  capture.ID,
		PayerEmail: strings.TrimSpace(resp.Payer.Email),
		Amount:     amount,
		Currency:   strings.ToUpper(capture.Amount.CurrencyCode),
	}, nil
}

func (c *Client) Refund(ctx context.Context, captureID string, amount int64, currency string, requestID string) (*gateway.RefundResult, error) {
	captureID = strings.TrimSpace(captureID)
	if captureID == "" {
		return nil, domain.ErrGatewayRejected
	}

	// An empty body refunds the full capture.
	var body any = struct{}{}
	if amount > 0 {
		body = refundRequest{Amount: moneyOf(amount, strings.ToUpper(strings.TrimSpace(currency)))}
	}

	var resp refundResponse
	path := fmt.Sprintf("/v2/payments/captures/%s/refund", captureID)
	if err := c.call(ctx, http.MethodPost, path, requestID, body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" || !strings.EqualFold(resp.Status, "COMPLETED") {
		return nil, domain.ErrGatewayRejected
	}

	refunded := amount
	if resp.Amount.Value != "" {
		if parsed, err := parseAmount(resp.Amount.Value); err == nil {
			refunded = parsed
		}
	}

	return &gateway.RefundResult{
		RefundID: resp.ID,
		Amount:   refunded,
		Currency: strings.ToUpper(resp.Amount.CurrencyCode),
	}, nil
}

func (c *Client) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) error {
	if !json.Valid(body) {
		return domain.ErrUnverified
	}

	verify := verifyWebhookRequest{
		AuthAlgo:         headers.Get("Paypal-Auth-Algo"),
		CertURL:          headers.Get("Paypal-Cert-Url"),
		TransmissionID:   headers.Get("Paypal-Transmission-Id"),
		TransmissionSig:  headers.Get("Paypal-Transmission-Sig"),
		TransmissionTime: headers.Get("Paypal-Transmission-Time"),
		WebhookID:        c.cfg.WebhookID,
		WebhookEvent:     json.RawMessage(body),
	}
	if verify.TransmissionID == "" || verify.TransmissionSig == "" {
		return domain.ErrUnverified
	}

	var resp verifyWebhookResponse
	if err := c.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", "", verify, &resp); err != nil {
		return err
	}
	if !strings.EqualFold(resp.VerificationStatus, "SUCCESS") {
		return domain.ErrUnverified
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path, requestID string, body any, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if method != http.MethodGet {
		// Mutating calls always carry an idempotency key. Callers pass a
		// stable one; anything else gets a throwaway.
		if requestID == "" {
			requestID = uuid.NewString()
		}
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return c.statusError(method, path, resp.StatusCode, payload)
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: malformed response", domain.ErrGatewayRejected)
	}
	return nil
}

func (c *Client) statusError(method, path string, status int, payload []byte) error {
	c.log.Warn("gateway call failed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.ByteString("body", payload),
	)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", domain.ErrGatewayAuth, status)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", domain.ErrGatewayUnavailable, status)
	default:
		return fmt.Errorf("%w: status %d", domain.ErrGatewayRejected, status)
	}
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", form)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: token status %d", domain.ErrGatewayAuth, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("%w: token status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("%w: malformed token response", domain.ErrGatewayUnavailable)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: empty token", domain.ErrGatewayAuth)
	}

	lifetime := time.Duration(token.ExpiresIn) * time.Second
	if lifetime > tokenSkew {
		lifetime -= tokenSkew
	}
	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(lifetime)
	return c.accessToken, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

func moneyOf(amount int64, currency string) money {
	return money{
		CurrencyCode: currency,
		Value:        fmt.Sprintf("%d.%02d", amount/100, amount%100),
	}
}

// parseAmount converts a decimal amount string into minor units.
func parseAmount(value string) (int64, error) {
	value = strings.TrimSpace(value)
	whole, frac, found := strings.Cut(value, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	if !found {
		return units * 100, nil
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, err
	}
	if units < 0 {
		return units*100 - cents, nil
	}
	return units*100 + cents, nil
}

type createOrderRequest struct {
	Intent             string              `json:"intent"`
	PurchaseUnits      []purchaseUnit      `json:"purchase_units"`
	ApplicationContext *applicationContext `json:"application_context,omitempty"`
}

type purchaseUnit struct {
	ReferenceID string `json:"reference_id,omitempty"`
	Amount      money  `json:"amount"`
}

type applicationContext struct {
	ReturnURL string `json:"return_url,omitempty"`
	CancelURL string `json:"cancel_url,omitempty"`
}

type orderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Payer         payer  `json:"payer"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []captureDetail `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
	Links []link `json:"links"`
}

type payer struct {
	Email string `json:"email_address"`
}

type captureDetail struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount money  `json:"amount"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

func (r orderResponse) link(rel string) string {
	for _, l := range r.Links {
		if strings.EqualFold(l.Rel, rel) {
			return l.Href
		}
	}
	return ""
}

func (r orderResponse) firstCapture() *captureDetail {
	for _, unit := range r.PurchaseUnits {
		for i := range unit.Payments.Captures {
			return &unit.Payments.Captures[i]
		}
	}
	return nil
}

type refundRequest struct {
	Amount money `json:"amount"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount money  `json:"amount"`
}

type verifyWebhookRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyWebhookResponse struct {
	VerificationStatus string `json:"verification_status"`
}
