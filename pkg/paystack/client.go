package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/billflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
)

var (
	errSecretKeyRequired = errors.New("paystack secret key is required")
	errBaseURLRequired   = errors.New("paystack base url is required")
	errLoggerRequired    = errors.New("paystack logger is required")
)

// Client exposes Paystack primitives with centralized auth, logging, and error mapping.
type Client struct {
	httpClient    *http.Client
	secretKey     string
	webhookSecret string
	baseURL       string
	logger        *logger.Logger
}

// NewClient initializes the Paystack wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.PaystackConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}

	secretKey := strings.TrimSpace(cfg.SecretKey)
	if secretKey == "" {
		return nil, errSecretKeyRequired
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		httpClient:    &http.Client{Timeout: timeout},
		secretKey:     secretKey,
		webhookSecret: cfg.SigningSecret(),
		baseURL:       baseURL,
		logger:        logg,
	}

	logg.Info(ctx, "paystack client initialized")
	return c, nil
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// Customer operations

func (c *Client) CreateCustomer(ctx context.Context, params CustomerCreateParams) (*Customer, error) {
	c.log(ctx, "request", "create_customer", map[string]any{"email": params.Email})

	var resp struct {
		envelope
		Data *Customer `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/customer", params, &resp, "create customer"); err != nil {
		return nil, err
	}

	c.log(ctx, "response", "create_customer", map[string]any{"customer_code": resp.Data.CustomerCode})
	return resp.Data, nil
}

func (c *Client) FetchCustomer(ctx context.Context, idOrCode string) (*Customer, error) {
	c.log(ctx, "request", "fetch_customer", map[string]any{"customer_code": idOrCode})

	var resp struct {
		envelope
		Data *Customer `json:"data"`
	}
	path := "/customer/" + url.PathEscape(idOrCode)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, "fetch customer"); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Subscription operations

func (c *Client) CreateSubscription(ctx context.Context, params SubscriptionCreateParams) (*Subscription, error) {
	c.log(ctx, "request", "create_subscription", map[string]any{
		"customer_code": params.CustomerCode,
		"plan_code":     params.PlanCode,
		"quantity":      params.Quantity,
	})

	var resp struct {
		envelope
		Data *Subscription `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/subscription", params, &resp, "create subscription"); err != nil {
		return nil, err
	}

	sub := resp.Data
	c.log(ctx, "response", "create_subscription", map[string]any{
		"subscription_code": sub.SubscriptionCode,
		"status":            sub.Status,
	})
	return sub, nil
}

func (c *Client) FetchSubscription(ctx context.Context, idOrCode string) (*Subscription, error) {
	c.log(ctx, "request", "fetch_subscription", map[string]any{"subscription_code": idOrCode})

	var resp struct {
		envelope
		Data *Subscription `json:"data"`
	}
	path := "/subscription/" + url.PathEscape(idOrCode)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, "fetch subscription"); err != nil {
		return nil, err
	}

	c.log(ctx, "response", "fetch_subscription", map[string]any{
		"subscription_code": resp.Data.SubscriptionCode,
		"status":            resp.Data.Status,
	})
	return resp.Data, nil
}

func (c *Client) UpdateSubscription(ctx context.Context, idOrCode string, params SubscriptionUpdateParams) (*Subscription, error) {
	c.log(ctx, "request", "update_subscription", map[string]any{
		"subscription_code": idOrCode,
		"plan_code":         params.PlanCode,
	})

	var resp struct {
		envelope
		Data *Subscription `json:"data"`
	}
	path := "/subscription/" + url.PathEscape(idOrCode)
	if err := c.do(ctx, http.MethodPut, path, params, &resp, "update subscription"); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) DisableSubscription(ctx context.Context, code, emailToken string) error {
	c.log(ctx, "request", "disable_subscription", map[string]any{"subscription_code": code})

	payload := map[string]string{"code": code, "token": emailToken}
	var resp envelope
	return c.do(ctx, http.MethodPost, "/subscription/disable", payload, &resp, "disable subscription")
}

func (c *Client) EnableSubscription(ctx context.Context, code, emailToken string) error {
	c.log(ctx, "request", "enable_subscription", map[string]any{"subscription_code": code})

	payload := map[string]string{"code": code, "token": emailToken}
	var resp envelope
	return c.do(ctx, http.MethodPost, "/subscription/enable", payload, &resp, "enable subscription")
}

func (c *Client) UpdateSubscriptionDiscount(ctx context.Context, code string, params DiscountUpdateParams) error {
	c.log(ctx, "request", "update_subscription_discount", map[string]any{"subscription_code": code})

	path := "/subscription/" + url.PathEscape(code) + "/discount"
	var resp envelope
	return c.do(ctx, http.MethodPost, path, params, &resp, "update subscription discount")
}

// Plan operations

func (c *Client) FetchPlan(ctx context.Context, planCode string) (*Plan, error) {
	c.log(ctx, "request", "fetch_plan", map[string]any{"plan_code": planCode})

	var resp struct {
		envelope
		Data *Plan `json:"data"`
	}
	path := "/plan/" + url.PathEscape(planCode)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, "fetch plan"); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) ListPlans(ctx context.Context) ([]Plan, error) {
	c.log(ctx, "request", "list_plans", nil)

	var resp struct {
		envelope
		Data []Plan `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/plan", nil, &resp, "list plans"); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Charge and authorization operations

func (c *Client) Charge(ctx context.Context, params ChargeParams) (*Transaction, error) {
	c.log(ctx, "request", "charge", map[string]any{
		"email":  params.Email,
		"amount": params.AmountSubunits,
	})

	var resp struct {
		envelope
		Data *Transaction `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/transaction/charge_authorization", params, &resp, "charge"); err != nil {
		return nil, err
	}

	c.log(ctx, "response", "charge", map[string]any{
		"reference": resp.Data.Reference,
		"status":    resp.Data.Status,
	})
	return resp.Data, nil
}

func (c *Client) CheckAuthorization(ctx context.Context, email, authorizationCode string, amountSubunits int64) (bool, error) {
	c.log(ctx, "request", "check_authorization", map[string]any{"email": email, "amount": amountSubunits})

	payload := map[string]any{
		"email":              email,
		"amount":             strconv.FormatInt(amountSubunits, 10),
		"authorization_code": authorizationCode,
	}
	var resp envelope
	if err := c.do(ctx, http.MethodPost, "/transaction/check_authorization", payload, &resp, "check authorization"); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) DeactivateAuthorization(ctx context.Context, authorizationCode string) error {
	c.log(ctx, "request", "deactivate_authorization", nil)

	payload := map[string]string{"authorization_code": authorizationCode}
	var resp envelope
	return c.do(ctx, http.MethodPost, "/customer/deactivate_authorization", payload, &resp, "deactivate authorization")
}

// Invoice operations

func (c *Client) CreateInvoice(ctx context.Context, params InvoiceCreateParams) (*Invoice, error) {
	c.log(ctx, "request", "create_invoice", map[string]any{
		"customer_code": params.CustomerCode,
		"amount":        params.AmountSubunits,
	})

	var resp struct {
		envelope
		Data *Invoice `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/paymentrequest", params, &resp, "create invoice"); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) ListInvoices(ctx context.Context, filter InvoiceListFilter) ([]Invoice, error) {
	c.log(ctx, "request", "list_invoices", map[string]any{"customer_code": filter.CustomerCode})

	query := url.Values{}
	if filter.CustomerCode != "" {
		query.Set("customer", filter.CustomerCode)
	}
	if filter.Status != "" {
		query.Set("status", filter.Status)
	}
	if filter.PerPage > 0 {
		query.Set("perPage", strconv.Itoa(filter.PerPage))
	}
	if filter.Page > 0 {
		query.Set("page", strconv.Itoa(filter.Page))
	}
	path := "/paymentrequest"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var resp struct {
		envelope
		Data []Invoice `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, "list invoices"); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// do executes the request and decodes into out, which must embed envelope.
func (c *Client) do(ctx context.Context, method, path string, body any, out any, op string) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("encode %s payload", op))
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("build %s request", op))
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log(ctx, "error", op, map[string]any{"error": err.Error()})
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("paystack %s failed", op))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("read %s response", op))
	}

	var env envelope
	if len(payload) > 0 {
		// Tolerate decode failures here; the status code mapping below still applies.
		_ = json.Unmarshal(payload, &env)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		code := domainCodeForStatus(resp.StatusCode)
		c.log(ctx, "error", op, map[string]any{
			"status_code": resp.StatusCode,
			"error":       env.Message,
		})
		return pkgerrors.New(code, providerMessage(env.Message, op))
	}

	if !env.Status {
		c.log(ctx, "error", op, map[string]any{"error": env.Message})
		return pkgerrors.New(pkgerrors.CodeUpstream, providerMessage(env.Message, op))
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode %s response", op))
		}
	}
	return nil
}

func providerMessage(message, op string) string {
	if strings.TrimSpace(message) == "" {
		return fmt.Sprintf("paystack %s failed", op)
	}
	return message
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("paystack %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("paystack %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"authorization", "token", "card", "cvv", "secret", "email", "phone"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	case http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}
