package gmail

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

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"applytrack/internal/services"
)

// ErrHistoryExpired is returned when the saved history checkpoint is too old
// for the history endpoint. Callers fall back to a list query.
var ErrHistoryExpired = errors.New("gmail history checkpoint expired")

const maxBodyBytes = 25 << 20

// MessageRef identifies a message without its content.
type MessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

// Client talks to the Gmail REST API. All requests share one rate limiter.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient builds a client for baseURL limited to requestsPerSecond.
func NewClient(baseURL string, requestsPerSecond float64, timeout time.Duration, opts ...ClientOption) *Client {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	client := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// ListMessages returns up to limit message refs matching query, newest first.
func (c *Client) ListMessages(ctx context.Context, token *oauth2.Token, query string, limit int) ([]MessageRef, error) {
	var refs []MessageRef
	pageToken := ""
	for {
		params := url.Values{}
		if query != "" {
			params.Set("q", query)
		}
		if remaining := limit - len(refs); limit > 0 {
			params.Set("maxResults", strconv.Itoa(min(remaining, 500)))
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}
		var page struct {
			Messages      []MessageRef `json:"messages"`
			NextPageToken string       `json:"nextPageToken"`
		}
		if err := c.get(ctx, token, "/users/me/messages", params, &page); err != nil {
			return nil, err
		}
		refs = append(refs, page.Messages...)
		if page.NextPageToken == "" || (limit > 0 && len(refs) >= limit) {
			break
		}
		pageToken = page.NextPageToken
	}
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

// ListHistory returns refs for messages added since startHistoryID and the
// newest history id reported by the server.
func (c *Client) ListHistory(ctx context.Context, token *oauth2.Token, startHistoryID string) ([]MessageRef, string, error) {
	var (
		refs      []MessageRef
		latest    string
		pageToken string
		seen      = make(map[string]struct{})
	)
	for {
		params := url.Values{}
		params.Set("startHistoryId", startHistoryID)
		params.Set("historyTypes", "messageAdded")
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}
		var page struct {
			History []struct {
				MessagesAdded []struct {
					Message MessageRef `json:"message"`
				} `json:"messagesAdded"`
			} `json:"history"`
			HistoryID     string `json:"historyId"`
			NextPageToken string `json:"nextPageToken"`
		}
		err := c.get(ctx, token, "/users/me/history", params, &page)
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, "", ErrHistoryExpired
		}
		if err != nil {
			return nil, "", err
		}
		for _, entry := range page.History {
			for _, added := range entry.MessagesAdded {
				if _, ok := seen[added.Message.ID]; ok || added.Message.ID == "" {
					continue
				}
				seen[added.Message.ID] = struct{}{}
				refs = append(refs, added.Message)
			}
		}
		if page.HistoryID != "" {
			latest = page.HistoryID
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	return refs, latest, nil
}

// GetMessage fetches a full message.
func (c *Client) GetMessage(ctx context.Context, token *oauth2.Token, id string) (*RawMessage, error) {
	params := url.Values{}
	params.Set("format", "full")
	var msg RawMessage
	if err := c.get(ctx, token, "/users/me/messages/"+url.PathEscape(id), params, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Profile returns the mailbox address and current history id.
func (c *Client) Profile(ctx context.Context, token *oauth2.Token) (string, string, error) {
	var profile struct {
		EmailAddress string `json:"emailAddress"`
		HistoryID    string `json:"historyId"`
	}
	if err := c.get(ctx, token, "/users/me/profile", nil, &profile); err != nil {
		return "", "", err
	}
	return profile.EmailAddress, profile.HistoryID, nil
}

// StatusError reports a non-2xx API response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gmail api: http %d: %s", e.StatusCode, e.Body)
}

func (c *Client) get(ctx context.Context, token *oauth2.Token, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("gmail api: new request: %w", err)
	}
	if token != nil {
		token.SetAuthHeader(req)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "gmail", path, "", err)
		}
		return services.Wrap(services.ErrTransient, "gmail", path, "", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return services.Wrap(services.ErrTransient, "gmail", path, "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		marker := services.ErrTransient
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			marker = services.ErrConfiguration
		case http.StatusNotFound:
			marker = services.ErrNotFound
		}
		return services.Wrap(marker, "gmail", path, "", statusErr)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return services.Wrap(services.ErrExternalTool, "gmail", path, "decode response", err)
	}
	return nil
}
