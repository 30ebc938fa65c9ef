package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"booking-inbox/internal/domain"
	"booking-inbox/internal/integrations/paramstore"
)

const (
	defaultBaseURL      = "https://graph.facebook.com"
	defaultGraphVersion = "v24.0"
)

// sendRequest is the Cloud API body for a plain text message.
type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

// sendResponse is the minimal response shape of the messages endpoint.
type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("whatsapp: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client sends text messages through the WhatsApp Cloud API.
type Client struct {
	baseURL       string
	graphVersion  string
	phoneNumberID string
	httpClient    *http.Client
	token         paramstore.Secret
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if v := strings.TrimSpace(baseURL); v != "" {
			c.baseURL = v
		}
	}
}

func WithGraphVersion(version string) Option {
	return func(c *Client) {
		if v := strings.TrimSpace(version); v != "" {
			c.graphVersion = v
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client authenticating with the access token resolved
// from token. The token is looked up on the first send, so a missing secret
// only fails the sends, not startup.
func NewClient(token paramstore.Secret, phoneNumberID string, opts ...Option) (*Client, error) {
	if token == nil {
		return nil, errors.New("whatsapp: token secret must not be nil")
	}
	c := &Client{
		baseURL:       defaultBaseURL,
		graphVersion:  defaultGraphVersion,
		phoneNumberID: strings.TrimSpace(phoneNumberID),
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		token:         token,
	}
	for _, opt := range opts {
		opt(c)
	}

	base := c.httpClient
	if base == nil {
		base = &http.Client{Timeout: 10 * time.Second}
	}
	c.httpClient = &http.Client{
		Timeout: base.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, secretTokenSource{secret: token}),
			Base:   base.Transport,
		},
	}
	return c, nil
}

// secretTokenSource adapts a paramstore.Secret to oauth2.TokenSource. The
// token carries no expiry, so ReuseTokenSource keeps it once resolved.
type secretTokenSource struct {
	secret paramstore.Secret
}

func (s secretTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := s.secret.Value(ctx)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: access token: %w", err)
	}
	return &oauth2.Token{AccessToken: v, TokenType: "Bearer"}, nil
}

func messagesURL(baseURL, version, phoneNumberID string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/" + strings.Trim(version, "/") + "/" + phoneNumberID + "/messages"
}

// recipient strips the formatting the Cloud API rejects ("+34 600" -> "34600").
func recipient(to string) string {
	return domain.ContactIDFromPhone(to)
}

// SendText delivers text to the contact and returns the provider message id.
func (c *Client) SendText(ctx context.Context, to, text string) (domain.Delivery, error) {
	if c.phoneNumberID == "" {
		return domain.Delivery{}, fmt.Errorf("whatsapp: phone number id: %w", paramstore.ErrNotConfigured)
	}
	to = recipient(to)
	if to == "" {
		return domain.Delivery{}, errors.New("whatsapp: recipient must not be empty")
	}
	if strings.TrimSpace(text) == "" {
		return domain.Delivery{}, errors.New("whatsapp: text must not be empty")
	}

	body, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: text},
	})
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("whatsapp: marshal request: %w", err)
	}

	url := messagesURL(c.baseURL, c.graphVersion, c.phoneNumberID)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return domain.Delivery{}, fmt.Errorf("whatsapp: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("whatsapp: send failed: %w", err)
	}

	var payload sendResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return domain.Delivery{}, fmt.Errorf("whatsapp: decode response: %w", decErr)
	}
	delivery := domain.Delivery{Raw: raw}
	if len(payload.Messages) > 0 {
		delivery.MessageID = payload.Messages[0].ID
	}
	return delivery, nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
