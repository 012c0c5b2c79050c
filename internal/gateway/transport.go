package gateway

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
)

// Call логический вызов бэкенда, одинаковый для всех транспортов.
type Call struct {
	Method     string
	Path       string
	Credential string
	Body       map[string]interface{}
}

// Transport способ доставить вызов до бэкенда.
type Transport interface {
	Name() string
	// Do возвращает сырое JSON-тело успешного ответа
	Do(ctx context.Context, call Call) ([]byte, error)
}

// DirectTransport ходит в REST API бэкенда напрямую.
type DirectTransport struct {
	baseURL string
	http    *http.Client
}

// NewDirectTransport создает новый экземпляр DirectTransport.
func NewDirectTransport(baseURL string, timeout time.Duration) *DirectTransport {
	return &DirectTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (t *DirectTransport) Name() string { return "direct" }

func (t *DirectTransport) Do(ctx context.Context, call Call) ([]byte, error) {
	var reader io.Reader
	if call.Body != nil {
		data, err := json.Marshal(call.Body)
		if err != nil {
			return nil, &domain.TransportError{Transport: t.Name(), Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, t.baseURL+call.Path, reader)
	if err != nil {
		return nil, &domain.TransportError{Transport: t.Name(), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+call.Credential)

	code, body, err := roundTrip(t.http, req)
	if err != nil {
		return nil, &domain.TransportError{Transport: t.Name(), Err: err}
	}
	if code < 200 || code >= 300 {
		return nil, &domain.TransportError{Transport: t.Name(), Code: code, Body: string(body)}
	}
	return body, nil
}

// FunctionTransport вызывает управляемую функцию-прокси, которая сама ходит в бэкенд.
type FunctionTransport struct {
	url  string
	http *http.Client
}

// NewFunctionTransport создает новый экземпляр FunctionTransport.
func NewFunctionTransport(url string, timeout time.Duration) *FunctionTransport {
	return &FunctionTransport{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

type functionEnvelope struct {
	Endpoint string                 `json:"endpoint"`
	Method   string                 `json:"method"`
	Token    string                 `json:"token"`
	Body     map[string]interface{} `json:"body,omitempty"`
}

func (t *FunctionTransport) Name() string { return "function" }

func (t *FunctionTransport) Do(ctx context.Context, call Call) ([]byte, error) {
	data, err := json.Marshal(functionEnvelope{
		Endpoint: call.Path,
		Method:   call.Method,
		Token:    call.Credential,
		Body:     call.Body,
	})
	if err != nil {
		return nil, &domain.TransportError{Transport: t.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(data))
	if err != nil {
		return nil, &domain.TransportError{Transport: t.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	code, body, err := roundTrip(t.http, req)
	if err != nil {
		return nil, &domain.TransportError{Transport: t.Name(), Err: err}
	}
	if code < 200 || code >= 300 {
		return nil, &domain.TransportError{Transport: t.Name(), Code: code, Body: string(body)}
	}

	var carried struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &carried); err == nil && hasValue(carried.Error) {
		return nil, &domain.TransportError{Transport: t.Name(), Code: code, Body: errorText(carried.Error)}
	}
	return body, nil
}

func roundTrip(client *http.Client, req *http.Request) (int, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func hasValue(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null" && s != `""` && s != "false"
}

func errorText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
