package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/perchlabs/perch-client/internal/models"
)

// RESTClient is the request/response side of the transport: a fallback
// and correctness backstop, never the sole source of truth. After a
// reconnect, consumers re-fetch through it because the push transport
// does not replay missed events.
type RESTClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewRESTClient creates a REST client against the workspace backend.
func NewRESTClient(baseURL, token string) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// doRequest executes one JSON request against the backend API. It adds
// the bearer credential and decodes error statuses into errors.
func (c *RESTClient) doRequest(method, endpoint string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, fmt.Sprintf("%s/api/%s", c.baseURL, endpoint), reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// ListChannels fetches all channels visible to the caller.
func (c *RESTClient) ListChannels() ([]models.Channel, error) {
	respBody, err := c.doRequest("GET", "channels", nil)
	if err != nil {
		return nil, err
	}

	var channels []models.Channel
	if err := json.Unmarshal(respBody, &channels); err != nil {
		return nil, fmt.Errorf("failed to parse channels: %w", err)
	}
	return channels, nil
}

// CreateChannel creates a channel and returns the server's copy.
func (c *RESTClient) CreateChannel(req models.CreateChannelRequest) (*models.Channel, error) {
	respBody, err := c.doRequest("POST", "channels", req)
	if err != nil {
		return nil, err
	}

	var channel models.Channel
	if err := json.Unmarshal(respBody, &channel); err != nil {
		return nil, fmt.Errorf("failed to parse channel: %w", err)
	}
	return &channel, nil
}

// FetchHistory fetches the message history for one channel. The result
// is kept raw; the reconciler normalizes it in LoadHistory so alias
// tolerance stays in one place.
func (c *RESTClient) FetchHistory(channelKey string) ([]json.RawMessage, error) {
	endpoint := fmt.Sprintf("channels/%s/history", url.PathEscape(channelKey))
	respBody, err := c.doRequest("GET", endpoint, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to parse history: %w", err)
	}
	return out.Messages, nil
}

// ListNotifications fetches the caller's notifications.
func (c *RESTClient) ListNotifications() ([]models.Notification, error) {
	respBody, err := c.doRequest("GET", "notifications", nil)
	if err != nil {
		return nil, err
	}

	var notifications []models.Notification
	if err := json.Unmarshal(respBody, &notifications); err != nil {
		return nil, fmt.Errorf("failed to parse notifications: %w", err)
	}
	return notifications, nil
}

// MarkNotificationsRead marks all of the caller's notifications read.
func (c *RESTClient) MarkNotificationsRead() error {
	_, err := c.doRequest("POST", "notifications/read", nil)
	return err
}

// FetchReports fetches workspace reports. Consumed by page-level
// screens outside this core; kept raw.
func (c *RESTClient) FetchReports() (json.RawMessage, error) {
	respBody, err := c.doRequest("GET", "reports", nil)
	if err != nil {
		return nil, err
	}
	return respBody, nil
}
