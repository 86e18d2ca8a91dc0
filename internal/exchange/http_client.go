package exchange

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"tradecore/pkg/ratelimit"
	"tradecore/pkg/retry"
	"tradecore/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// APIPrefix - префикс версии API, входит в подписываемый путь
	APIPrefix = "/api/v1"

	defaultRecvWindow = 10 * time.Second
	maxErrorBody      = 1024
)

// HTTPClientConfig - настройки подписанного REST клиента
type HTTPClientConfig struct {
	Venue   string
	BaseURL string

	// Пустые ключи берутся из окружения, см. ResolveCredentials
	APIKey    string
	APISecret string

	// RecvWindow - срок действия подписи: expires = now + RecvWindow
	RecvWindow time.Duration

	Retry        retry.Config
	DefaultQuota *ratelimit.Quota
	Quotas       map[string]ratelimit.Quota
	Transport    TransportConfig
	Headers      map[string]string
}

// Response - ответ площадки с телом, прочитанным целиком
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// HTTPClient - REST клиент: квоты, подпись, повторы и типизированные ошибки
type HTTPClient struct {
	cfg     HTTPClientConfig
	baseURL string
	client  *http.Client
	creds   *Credentials
	limiter *ratelimit.KeyedLimiter
	retrier *retry.Manager
	now     func() time.Time
	logger  *utils.Logger
}

// NewHTTPClient создаёт клиент. Ошибка - только при половине пары ключей.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, &ValidationError{Field: "base_url", Reason: "must not be empty"}
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = defaultRecvWindow
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = retry.HTTPConfig()
	}
	if cfg.Transport.TotalTimeout == 0 {
		cfg.Transport = DefaultTransportConfig()
	}

	creds, err := ResolveCredentials(cfg.Venue, cfg.BaseURL, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, err
	}

	c := &HTTPClient{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  NewTransport(cfg.Transport),
		creds:   creds,
		limiter: ratelimit.NewKeyedLimiter(cfg.DefaultQuota, cfg.Quotas),
		now:     time.Now,
		logger:  utils.L().WithComponent("http").WithVenue(cfg.Venue),
	}
	c.retrier = retry.NewManager(cfg.Retry, ShouldRetry).WithOnRetry(c.onRetry)
	return c, nil
}

func (c *HTTPClient) onRetry(attempt int, err error, delay time.Duration) {
	httpRetries.WithLabelValues(c.cfg.Venue).Inc()
	c.logger.Warn("Retrying request",
		utils.Attempt(attempt),
		utils.Duration("delay", delay),
		utils.Err(err),
	)
}

// HasCredentials - заданы ли ключи для подписанных запросов
func (c *HTTPClient) HasCredentials() bool { return c.creds != nil }

// Limiter возвращает квоты клиента
func (c *HTTPClient) Limiter() *ratelimit.KeyedLimiter { return c.limiter }

// Close закрывает простаивающие соединения
func (c *HTTPClient) Close() { closeIdle(c.client) }

// NormalizePath добавляет префикс версии API ровно один раз
func NormalizePath(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if strings.HasPrefix(path, APIPrefix+"/") || path == APIPrefix {
		return path
	}
	return APIPrefix + path
}

// SendRequest выполняет запрос с повторами по ShouldRetry.
//
// Каждая попытка заново проходит квоты keys и заново подписывается,
// поэтому expires всегда отсчитывается от момента отправки.
func (c *HTTPClient) SendRequest(ctx context.Context, method, path string, query url.Values,
	body []byte, authenticate bool, keys []string) (*Response, error) {
	if authenticate && c.creds == nil {
		return nil, fmt.Errorf("%w: %s %s requires authentication", ErrMissingCredentials, method, path)
	}

	name := method + " " + path
	return retry.Execute(ctx, c.retrier, name, func(ctx context.Context) (*Response, error) {
		return c.send(ctx, method, path, query, body, authenticate, keys)
	})
}

// send - одна попытка запроса
func (c *HTTPClient) send(ctx context.Context, method, path string, query url.Values,
	body []byte, authenticate bool, keys []string) (*Response, error) {
	op := method + " " + path

	waitStart := time.Now()
	if err := c.limiter.Wait(ctx, keys...); err != nil {
		return nil, c.transportError(ctx, op, err)
	}
	observeLimiterWait(c.cfg.Venue, time.Since(waitStart))

	fullPath := NormalizePath(path)
	if len(query) > 0 {
		fullPath += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+fullPath, bytes.NewReader(body))
	if err != nil {
		return nil, &ValidationError{Field: "request", Reason: err.Error()}
	}

	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		switch method {
		case http.MethodPost, http.MethodPut, http.MethodDelete:
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if authenticate {
		expires := c.now().Add(c.cfg.RecvWindow).Unix()
		req.Header.Set("api-key", c.creds.APIKey)
		req.Header.Set("api-expires", strconv.FormatInt(expires, 10))
		req.Header.Set("api-signature", c.creds.Sign(method, fullPath, expires, body))
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		observeRequest(c.cfg.Venue, method, 0, time.Since(start))
		return nil, c.transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	observeRequest(c.cfg.Venue, method, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, c.transportError(ctx, op, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		err := parseErrorResponse(resp.StatusCode, data)
		c.logger.Debug("Request failed",
			utils.String("op", op),
			utils.Int("status", resp.StatusCode),
			utils.Err(err),
		)
		return nil, err
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// transportError приводит ошибку транспорта к Canceled, Timeout или Network
func (c *HTTPClient) transportError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %s: %w", ErrCanceled, op, ctx.Err())
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Op: op, Err: err}
	}
	return &NetworkError{Op: op, Err: err}
}

// venueErrorBody - формат ошибки {"error": {"name": ..., "message": ...}}
type venueErrorBody struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseErrorResponse(status int, body []byte) error {
	var v venueErrorBody
	if err := json.Unmarshal(body, &v); err == nil && (v.Error.Name != "" || v.Error.Message != "") {
		return &VenueError{Status: status, Name: v.Error.Name, Message: v.Error.Message}
	}
	text := string(body)
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return &UnexpectedStatusError{Status: status, Body: text}
}

// decodeResponse разбирает JSON тело ответа
func decodeResponse[T any](resp *Response) (T, error) {
	var out T
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
