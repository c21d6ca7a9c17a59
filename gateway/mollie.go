package gateway

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"mollie-ideal/config"
	"mollie-ideal/models"
	"mollie-ideal/monitoring"
)

// Mollie rejects iDEAL descriptions longer than this
const maxDescriptionLen = 29

// ErrMalformedResponse is returned when the gateway answers with XML we cannot use
var ErrMalformedResponse = errors.New("malformed gateway response")

// APIError is an error reported by the gateway itself
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mollie error %s: %s", e.Code, e.Message)
}

// Client talks to the Mollie iDEAL XML API
type Client struct {
	baseURL    string
	partnerID  string
	profileKey string
	testMode   bool
	timeout    time.Duration
	httpClient *http.Client
	tracer     trace.Tracer
}

// NewClient creates a gateway client. A nil tracer uses the global provider.
func NewClient(cfg config.MollieConfig, tracer trace.Tracer) *Client {
	if tracer == nil {
		tracer = otel.Tracer("mollie-ideal/gateway")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		partnerID:  cfg.PartnerID,
		profileKey: cfg.ProfileKey,
		testMode:   cfg.TestMode,
		timeout:    timeout,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
		tracer: tracer,
	}
}

type xmlResponse struct {
	XMLName xml.Name  `xml:"response"`
	Banks   []xmlBank `xml:"bank"`
	Order   *xmlOrder `xml:"order"`
	Item    *xmlItem  `xml:"item"`
}

type xmlBank struct {
	ID   string `xml:"bank_id"`
	Name string `xml:"bank_name"`
}

type xmlItem struct {
	Type      string `xml:"type,attr"`
	ErrorCode string `xml:"errorcode"`
	Message   string `xml:"message"`
}

type xmlOrder struct {
	TransactionID string      `xml:"transaction_id"`
	Amount        string      `xml:"amount"`
	Currency      string      `xml:"currency"`
	URL           string      `xml:"URL"`
	Payed         string      `xml:"payed"`
	Status        string      `xml:"status"`
	Message       string      `xml:"message"`
	Consumer      xmlConsumer `xml:"consumer"`
}

type xmlConsumer struct {
	Name    string `xml:"consumerName"`
	Account string `xml:"consumerAccount"`
	City    string `xml:"consumerCity"`
}

// Banks lists the iDEAL issuers
func (c *Client) Banks(ctx context.Context) ([]models.Bank, error) {
	params := url.Values{"a": {"banklist"}}
	if c.testMode {
		params.Set("testmode", "true")
	}

	resp, err := c.call(ctx, "banklist", params)
	if err != nil {
		return nil, err
	}

	banks := make([]models.Bank, 0, len(resp.Banks))
	for _, b := range resp.Banks {
		banks = append(banks, models.Bank{ID: b.ID, Name: b.Name})
	}
	return banks, nil
}

// CreatePayment asks the gateway for a new transaction and the bank redirect URL
func (c *Client) CreatePayment(ctx context.Context, bankID string, amountCents int64, description, returnURL, reportURL string) (models.CreatedPayment, error) {
	description = truncateDescription(description)

	params := url.Values{
		"a":           {"fetch"},
		"partnerid":   {c.partnerID},
		"bank_id":     {bankID},
		"amount":      {strconv.FormatInt(amountCents, 10)},
		"description": {description},
		"returnurl":   {returnURL},
		"reporturl":   {reportURL},
	}
	if c.profileKey != "" {
		params.Set("profile_key", c.profileKey)
	}

	resp, err := c.call(ctx, "fetch", params)
	if err != nil {
		return models.CreatedPayment{}, err
	}
	if resp.Order == nil || resp.Order.TransactionID == "" || resp.Order.URL == "" {
		return models.CreatedPayment{}, fmt.Errorf("fetch: %w: missing transaction_id or URL", ErrMalformedResponse)
	}

	return models.CreatedPayment{
		TransactionID: resp.Order.TransactionID,
		RedirectURL:   resp.Order.URL,
	}, nil
}

// truncateDescription cuts s to maxDescriptionLen characters
func truncateDescription(s string) string {
	n := 0
	for i := range s {
		if n == maxDescriptionLen {
			return s[:i]
		}
		n++
	}
	return s
}

// QueryStatus checks the payment status and consumer details of a transaction
func (c *Client) QueryStatus(ctx context.Context, transactionID string) (models.PaymentStatus, error) {
	params := url.Values{
		"a":              {"check"},
		"partnerid":      {c.partnerID},
		"transaction_id": {transactionID},
	}
	if c.testMode {
		params.Set("testmode", "true")
	}

	resp, err := c.call(ctx, "check", params)
	if err != nil {
		return models.PaymentStatus{}, err
	}
	if resp.Order == nil || resp.Order.TransactionID != transactionID {
		return models.PaymentStatus{}, fmt.Errorf("check %s: %w: order missing or for another transaction", transactionID, ErrMalformedResponse)
	}

	paid, err := strconv.ParseBool(strings.TrimSpace(resp.Order.Payed))
	if err != nil {
		return models.PaymentStatus{}, fmt.Errorf("check %s: %w: payed=%q", transactionID, ErrMalformedResponse, resp.Order.Payed)
	}
	amount, err := strconv.ParseInt(strings.TrimSpace(resp.Order.Amount), 10, 64)
	if err != nil {
		return models.PaymentStatus{}, fmt.Errorf("check %s: %w: amount=%q", transactionID, ErrMalformedResponse, resp.Order.Amount)
	}

	return models.PaymentStatus{
		TransactionID:   resp.Order.TransactionID,
		BankStatus:      models.BankStatus(strings.TrimSpace(resp.Order.Status)),
		Paid:            paid,
		AmountCents:     amount,
		ConsumerAccount: resp.Order.Consumer.Account,
		ConsumerName:    resp.Order.Consumer.Name,
	}, nil
}

func (c *Client) call(ctx context.Context, action string, params url.Values) (*xmlResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "mollie."+action)
	defer span.End()
	span.SetAttributes(
		attribute.String("external.service", "mollie"),
		attribute.String("mollie.action", action),
	)
	if tx := params.Get("transaction_id"); tx != "" {
		span.SetAttributes(attribute.String("payment.transaction_id", tx))
	}

	start := time.Now()
	resp, err := c.do(ctx, params)
	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	monitoring.GatewayCallDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		),
	)
	return resp, err
}

func (c *Client) do(ctx context.Context, params url.Values) (*xmlResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call mollie: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mollie returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read mollie response: %w", err)
	}

	var out xmlResponse
	if err := xml.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out.Item != nil && out.Item.Type == "error" {
		return nil, &APIError{Code: out.Item.ErrorCode, Message: strings.TrimSpace(out.Item.Message)}
	}
	return &out, nil
}
