package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"selcom-gateway/internal/config"
	"selcom-gateway/internal/model"
	"selcom-gateway/internal/payload"
	"selcom-gateway/internal/signature"
)

const (
	CreateOrderEndpoint   = "/checkout/create-order-minimal"
	WalletPaymentEndpoint = "/checkout/wallet-payment"

	defaultTimeoutMs = 30_000
)

var requestDurationHistogram = metrics.GetOrCreateHistogram(`selcom_gateway_duration_milliseconds`)

func requestCounter(endpoint string, result model.Result) *metrics.Counter {
	if result == "" {
		result = "NONE"
	}
	return metrics.GetOrCreateCounter(fmt.Sprintf(`selcom_gateway_requests_total{endpoint=%q,result=%q}`, endpoint, result))
}

// Client posts signed requests to the Selcom API.
type Client struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	apiSecret string
	logger    *slog.Logger
	now       func() time.Time
}

func NewClient(cfg config.Selcom, logger *slog.Logger) *Client {
	timeoutMs := cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = defaultTimeoutMs
	}

	return &Client{
		client: &http.Client{
			Timeout:   time.Duration(timeoutMs) * time.Millisecond,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:   strings.TrimRight(cfg.APIURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		logger:    logger,
		now:       time.Now,
	}
}

// Send stamps a fresh timestamp, signs p with the configured secret and posts it.
func (c *Client) Send(ctx context.Context, endpoint string, p *payload.Payload) model.GatewayResponse {
	timestamp := c.now().Format(signature.TimestampLayout)
	fields := p.Fields()

	body, err := json.Marshal(p)
	if err != nil {
		c.logger.ErrorContext(ctx, "Error encoding payload", "endpoint", endpoint, "error", err)
		return failure(errors.Wrap(err, "encode payload"))
	}

	digest := signature.Sign(timestamp, fields, p.Values(), c.apiSecret)
	return c.Post(ctx, endpoint, body, digest, signature.SignedFields(fields), timestamp)
}

// Post never returns an error: transport failures, timeouts and unreadable bodies
// come back as a FAIL response carrying the error message.
func (c *Client) Post(ctx context.Context, endpoint string, body []byte, digest, signedFields, timestamp string) model.GatewayResponse {
	startTime := time.Now()
	url := c.baseURL + endpoint

	c.logger.InfoContext(ctx, "Sending request to Selcom", "url", url, "signedFields", signedFields)
	c.logger.DebugContext(ctx, "Request payload", "body", string(body))

	response := c.post(ctx, url, body, digest, signedFields, timestamp)

	requestDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	requestCounter(endpoint, response.Result).Inc()

	return response
}

func (c *Client) post(ctx context.Context, url string, body []byte, digest, signedFields, timestamp string) model.GatewayResponse {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.logger.ErrorContext(ctx, "Error creating request", "error", err)
		return failure(errors.Wrap(err, "create request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "SELCOM "+base64.StdEncoding.EncodeToString([]byte(c.apiKey)))
	req.Header.Set("Digest-Method", signature.Method)
	req.Header.Set("Digest", digest)
	req.Header.Set("Timestamp", timestamp)
	req.Header.Set("Signed-Fields", signedFields)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "Error sending request", "error", err)
		return failure(errors.Wrap(err, "send request"))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "Error reading response body", "error", err)
		return failure(errors.Wrap(err, "read response"))
	}

	c.logger.InfoContext(ctx, "Received response from Selcom", "status", resp.Status)
	c.logger.DebugContext(ctx, "Response body", "body", string(respBody))

	var response model.GatewayResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		c.logger.ErrorContext(ctx, "Error decoding response body", "status", resp.Status, "error", err)
		return failure(errors.Wrapf(err, "decode response (%s)", resp.Status))
	}
	return response
}

func failure(err error) model.GatewayResponse {
	return model.GatewayResponse{Result: model.ResultFail, Message: err.Error()}
}
