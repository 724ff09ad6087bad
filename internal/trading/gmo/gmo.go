// Package gmo implements the exchange adapter for the GMO Coin spot API.
package gmo

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/songzhibin97/shannon/internal/trading"
	"github.com/songzhibin97/shannon/internal/utils/logging"
	"github.com/songzhibin97/shannon/internal/utils/request"
)

const (
	defaultPublicURL  = "https://api.coin.z.com/public"
	defaultPrivateURL = "https://api.coin.z.com/private"
)

var _ trading.Exchange = (*Client)(nil)

type Client struct {
	apiKey     string
	secretKey  string
	publicURL  string
	privateURL string

	// httpClient serves reads and retries transport failures, orderClient
	// posts orders and cancels without retrying.
	httpClient  *resty.Client
	orderClient *resty.Client
	logger      logging.Logger

	nonceMu   sync.Mutex
	lastNonce int64
	now       func() time.Time
}

type Option func(*Client)

func WithLogger(logger logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func NewClient(apiKey, secretKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:      apiKey,
		secretKey:   secretKey,
		publicURL:   defaultPublicURL,
		privateURL:  defaultPrivateURL,
		httpClient:  request.New(),
		orderClient: request.New().SetRetryCount(0),
		logger:      logging.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string {
	return "gmo"
}

type message struct {
	Code   string `json:"message_code"`
	String string `json:"message_string"`
}

type response struct {
	Status       int             `json:"status"`
	Data         json.RawMessage `json:"data"`
	Messages     []message       `json:"messages"`
	ResponseTime string          `json:"responsetime"`
}

// APIError is a non-zero status returned by the API.
type APIError struct {
	Status   int
	Messages []message
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gmo api status %d: %s", e.Status, e.message())
}

// systemCodes are API failures that say nothing about the order itself.
var systemCodes = map[string]bool{
	"ERR-5003": true, // too many requests
	"ERR-5008": true, // timestamp too late
	"ERR-5009": true, // timestamp too early
	"ERR-5010": true, // invalid signature
	"ERR-5011": true, // missing api key
	"ERR-5012": true, // api key authentication
	"ERR-5014": true, // account agreement not completed
	"ERR-5201": true, // scheduled maintenance
	"ERR-5202": true, // emergency maintenance
	"ERR-5204": true, // invalid api path
}

// Rejection reports whether the error is a business rule rejection of the
// request, as opposed to throttling, authentication or maintenance.
func (e *APIError) Rejection() bool {
	if len(e.Messages) == 0 {
		return false
	}
	for _, m := range e.Messages {
		if systemCodes[m.Code] {
			return false
		}
	}
	return true
}

func (e *APIError) message() string {
	parts := make([]string, 0, len(e.Messages))
	for _, m := range e.Messages {
		parts = append(parts, m.Code+" "+m.String)
	}
	return strings.Join(parts, "; ")
}

// nonce returns a millisecond timestamp that strictly increases between calls.
func (c *Client) nonce() string {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	ts := c.now().UnixMilli()
	if ts <= c.lastNonce {
		ts = c.lastNonce + 1
	}
	c.lastNonce = ts
	return strconv.FormatInt(ts, 10)
}

func (c *Client) sign(timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(timestamp + method + path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) publicGet(ctx context.Context, path string, params map[string]string, out interface{}) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(c.publicURL + path)
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", path, err)
	}
	return decode(path, resp, out)
}

func (c *Client) privateGet(ctx context.Context, path string, params map[string]string, out interface{}) error {
	ts := c.nonce()
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetHeader("API-KEY", c.apiKey).
		SetHeader("API-TIMESTAMP", ts).
		SetHeader("API-SIGN", c.sign(ts, "GET", path, nil)).
		Get(c.privateURL + path)
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", path, err)
	}
	return decode(path, resp, out)
}

// privatePost signs and sends exactly the bytes of the marshalled payload.
func (c *Client) privatePost(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", path, err)
	}

	ts := c.nonce()
	resp, err := c.orderClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("API-KEY", c.apiKey).
		SetHeader("API-TIMESTAMP", ts).
		SetHeader("API-SIGN", c.sign(ts, "POST", path, body)).
		SetBody(body).
		Post(c.privateURL + path)
	if err != nil {
		return fmt.Errorf("failed to post %s: %w", path, err)
	}
	return decode(path, resp, out)
}

func decode(path string, resp *resty.Response, out interface{}) error {
	if resp.IsError() {
		return fmt.Errorf("%s returned http status %d: %s", path, resp.StatusCode(), resp.String())
	}

	var r response
	if err := json.Unmarshal(resp.Body(), &r); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	if r.Status != 0 {
		return &APIError{Status: r.Status, Messages: r.Messages}
	}
	if out == nil || len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", path, err)
	}
	return nil
}

func parseFloat(field, v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s %q: %w", field, v, err)
	}
	return f, nil
}
