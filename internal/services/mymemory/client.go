// Package mymemory is a small client for the MyMemory translation API.
//
// MyMemory has no batch endpoint, so callers translate one segment per
// request. Queries are limited to 500 bytes. Quota exhaustion is reported
// either through responseStatus or inside the translated text itself; both
// surface as ErrQuotaExceeded.
package mymemory

import (
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

	"rythmo/internal/services"
)

const (
	// MaxQueryBytes is the longest text the API accepts in one request.
	MaxQueryBytes      = 500
	DefaultURL         = "https://api.mymemory.translated.net/get"
	defaultHTTPTimeout = 30 * time.Second
)

// ErrQuotaExceeded reports that the daily character allowance is used up.
var ErrQuotaExceeded = fmt.Errorf("%w: mymemory quota exceeded", services.ErrTransient)

// Config captures the runtime settings for the API.
type Config struct {
	BaseURL string
	// Email raises the anonymous daily quota when provided.
	Email   string
	Timeout time.Duration
}

// Client calls the MyMemory GET endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a client.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultURL
	}
	cfg.Email = strings.TrimSpace(cfg.Email)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := &Client{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type response struct {
	ResponseData struct {
		TranslatedText string `json:"translatedText"`
	} `json:"responseData"`
	ResponseStatus  flexInt `json:"responseStatus"`
	ResponseDetails string  `json:"responseDetails"`
}

// flexInt accepts both 200 and "200"; the API uses either depending on the
// error path.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	text := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if text == "" || text == "null" {
		*f = 0
		return nil
	}
	value, err := strconv.Atoi(text)
	if err != nil {
		return fmt.Errorf("responseStatus %q: %w", text, err)
	}
	*f = flexInt(value)
	return nil
}

// Translate translates one text. An empty source means auto-detection.
func (c *Client) Translate(ctx context.Context, text, source, target string) (string, error) {
	if len(text) > MaxQueryBytes {
		return "", fmt.Errorf("%w: mymemory accepts at most %d bytes per request, got %d", services.ErrValidation, MaxQueryBytes, len(text))
	}
	if strings.TrimSpace(target) == "" {
		return "", fmt.Errorf("%w: target language required", services.ErrValidation)
	}
	if strings.TrimSpace(source) == "" {
		source = "auto"
	}

	params := url.Values{}
	params.Set("q", text)
	params.Set("langpair", source+"|"+target)
	if c.cfg.Email != "" {
		params.Set("de", c.cfg.Email)
	}
	endpoint := c.cfg.BaseURL
	if strings.Contains(endpoint, "?") {
		endpoint += "&" + params.Encode()
	} else {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("mymemory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := context.Cause(ctx); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: mymemory request: %w", services.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read mymemory response: %w", services.ErrTransient, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrQuotaExceeded
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		marker := services.ErrExternalTool
		if resp.StatusCode >= 500 {
			marker = services.ErrTransient
		}
		return "", fmt.Errorf("%w: mymemory http %d", marker, resp.StatusCode)
	}

	var decoded response
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("%w: decode mymemory response: %w", services.ErrMalformedOutput, err)
	}
	if status := int(decoded.ResponseStatus); status != 0 && status != http.StatusOK {
		if status == http.StatusTooManyRequests || isQuotaMessage(decoded.ResponseDetails) {
			return "", ErrQuotaExceeded
		}
		detail := strings.TrimSpace(decoded.ResponseDetails)
		if detail == "" {
			detail = "unknown error"
		}
		return "", fmt.Errorf("%w: mymemory status %d: %s", services.ErrExternalTool, status, detail)
	}
	translated := decoded.ResponseData.TranslatedText
	if isQuotaMessage(translated) {
		return "", ErrQuotaExceeded
	}
	if strings.TrimSpace(translated) == "" {
		return "", errors.New("mymemory returned an empty translation")
	}
	return translated, nil
}

func isQuotaMessage(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "limit reached") || strings.Contains(lower, "quota")
}
