package randomness

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с внешним оракулом случайности.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент оракула случайности по указанному адресу.
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    base,
		httpClient: rc.StandardClient(),
	}
}

type requestResponse struct {
	RequestID string `json:"request_id"`
}

type valueResponse struct {
	Value uint64 `json:"value"`
}

// RequestRandomness регистрирует запрос случайности у оракула.
func (c *Client) RequestRandomness() (string, error) {
	resp, err := c.httpClient.Post(c.baseURL+"/api/randomness/request", "application/json", nil)
	if err != nil {
		return "", fmt.Errorf("request randomness: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oracle status %d", resp.StatusCode)
	}

	var result requestResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if result.RequestID == "" {
		return "", fmt.Errorf("oracle returned empty request id")
	}
	return result.RequestID, nil
}

// FulfillRandomRequest запрашивает раскрытое значение. До финализации блока
// запроса оракул отвечает 425 Too Early, что транслируется в ErrNotFinalized.
func (c *Client) FulfillRandomRequest(requestID string) (uint64, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/api/randomness/value/" + requestID)
	if err != nil {
		return 0, fmt.Errorf("fulfill randomness: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooEarly:
		return 0, ErrNotFinalized
	case http.StatusNotFound:
		return 0, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	default:
		return 0, fmt.Errorf("oracle status %d", resp.StatusCode)
	}

	var result valueResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	return result.Value, nil
}
