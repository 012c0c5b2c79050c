package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ReminderNotifier/internal/domain"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/time/rate"
)

const (
	sendPath      = "/api/notifications/send"
	multicastPath = "/api/notifications/send-multicast"

	statusSuccess = "success"
	maxBodyLog    = 512
)

// Config конфигурация клиента релея.
type Config struct {
	PrimaryURL   string
	AlternateURL string
	Timeout      time.Duration
	RatePerSec   int
}

// Client отправляет push-уведомления через релей.
type Client struct {
	primary     string
	alternate   string
	http        *http.Client
	credentials domain.CredentialSource
	limiter     *rate.Limiter
}

// NewClient создает новый экземпляр Client.
func NewClient(cfg Config, credentials domain.CredentialSource) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
		burst = cfg.RatePerSec
	}
	return &Client{
		primary:     strings.TrimRight(cfg.PrimaryURL, "/"),
		alternate:   strings.TrimRight(cfg.AlternateURL, "/"),
		http:        &http.Client{Timeout: cfg.Timeout},
		credentials: credentials,
		limiter:     rate.NewLimiter(limit, burst),
	}
}

type sendRequest struct {
	Token string `json:"token"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

type sendResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"messageId"`
}

type multicastRequest struct {
	Tokens string `json:"tokens"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

type multicastResponse struct {
	Status       string `json:"status"`
	SuccessCount int    `json:"successCount"`
}

// attempt результат одной попытки отправки на endpoint.
type attempt struct {
	endpoint string
	code     int
	body     []byte
	// fault сетевая ошибка, ответа от сервера нет
	fault error
}

// Send отправляет уведомление. Сначала основной endpoint, при сетевой ошибке один раз запасной.
func (c *Client) Send(ctx context.Context, token, title, body string) (string, bool) {
	op := "relay.Send:"
	credential := c.credentials.Credential(ctx)
	if credential == "" {
		zlog.Logger.Warn().Msgf("%s no relay credential, skip", op)
		return "", false
	}

	payload, err := json.Marshal(sendRequest{Token: token, Title: title, Body: body})
	if err != nil {
		zlog.Logger.Error().Err(err).Msgf("%s failed to marshal payload", op)
		return "", false
	}

	endpoints := []string{c.primary}
	if c.alternate != "" {
		endpoints = append(endpoints, c.alternate)
	}

	var res attempt
	for _, base := range endpoints {
		res = c.post(ctx, base+sendPath, credential, payload)
		if res.fault == nil {
			break
		}
		zlog.Logger.Warn().Err(res.fault).Str("endpoint", res.endpoint).Msgf("%s network fault", op)
		if ctx.Err() != nil {
			return "", false
		}
	}
	if res.fault != nil {
		return "", false
	}

	if res.code < 200 || res.code >= 300 {
		zlog.Logger.Warn().Int("code", res.code).Str("endpoint", res.endpoint).
			Str("body", truncate(res.body)).Msgf("%s rejected", op)
		return "", false
	}

	var out sendResponse
	if err := json.Unmarshal(res.body, &out); err != nil {
		zlog.Logger.Warn().Err(err).Str("body", truncate(res.body)).Msgf("%s malformed response", op)
		return "", false
	}
	if out.Status != statusSuccess || out.MessageID == "" {
		zlog.Logger.Warn().Str("status", out.Status).Msgf("%s relay did not accept message", op)
		return "", false
	}

	zlog.Logger.Debug().Str("message_id", out.MessageID).Str("endpoint", res.endpoint).Msgf("%s sent", op)
	return out.MessageID, true
}

// SendMulticast отправляет уведомление на несколько токенов через основной endpoint.
// Возвращает число успешных доставок по данным релея.
func (c *Client) SendMulticast(ctx context.Context, tokens []string, title, body string) int {
	op := "relay.SendMulticast:"
	credential := c.credentials.Credential(ctx)
	if credential == "" {
		zlog.Logger.Warn().Msgf("%s no relay credential, skip", op)
		return 0
	}
	if len(tokens) == 0 {
		return 0
	}

	payload, err := json.Marshal(multicastRequest{Tokens: strings.Join(tokens, ","), Title: title, Body: body})
	if err != nil {
		zlog.Logger.Error().Err(err).Msgf("%s failed to marshal payload", op)
		return 0
	}

	res := c.post(ctx, c.primary+multicastPath, credential, payload)
	if res.fault != nil {
		zlog.Logger.Warn().Err(res.fault).Msgf("%s network fault", op)
		return 0
	}
	if res.code < 200 || res.code >= 300 {
		zlog.Logger.Warn().Int("code", res.code).Str("body", truncate(res.body)).Msgf("%s rejected", op)
		return 0
	}

	var out multicastResponse
	if err := json.Unmarshal(res.body, &out); err != nil || out.Status != statusSuccess {
		zlog.Logger.Warn().Err(err).Str("status", out.Status).Msgf("%s relay did not accept message", op)
		return 0
	}
	return out.SuccessCount
}

func (c *Client) post(ctx context.Context, url, credential string, payload []byte) attempt {
	res := attempt{endpoint: url}
	if err := c.limiter.Wait(ctx); err != nil {
		res.fault = fmt.Errorf("rate limiter: %w", err)
		return res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		res.fault = err
		return res
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.http.Do(req)
	if err != nil {
		res.fault = err
		return res
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	res.code = resp.StatusCode
	res.body, err = io.ReadAll(resp.Body)
	if err != nil {
		res.fault = fmt.Errorf("read body: %w", err)
	}
	return res
}

func truncate(b []byte) string {
	if len(b) > maxBodyLog {
		return string(b[:maxBodyLog]) + "..."
	}
	return string(b)
}
