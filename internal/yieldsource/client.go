package yieldsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// Client инкапсулирует HTTP-взаимодействие с внешним источником доходности.
// Контракт Source не допускает ошибок, поэтому сетевые сбои деградируют до
// консервативных ответов: нулевой ликвидности и нулевого вывода.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент источника доходности по указанному адресу.
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

type availableResponse struct {
	Available int64 `json:"available"`
}

type withdrawRequest struct {
	Amount int64 `json:"amount"`
}

type withdrawResponse struct {
	Actual int64 `json:"actual"`
}

type depositRequest struct {
	Amount int64 `json:"amount"`
}

// Balance возвращает полный баланс пула в источнике; 0 при недоступности.
func (c *Client) Balance() int64 {
	var resp balanceResponse
	if err := c.getJSON("/api/vault/balance", &resp); err != nil {
		return 0
	}
	return resp.Balance
}

// DepositCapacity передаёт amount в источник. Вызов best-effort: ошибка
// игнорируется, источником истины остаётся баланс после вызова.
func (c *Client) DepositCapacity(amount int64) {
	if amount <= 0 {
		return
	}
	_ = c.postJSON("/api/vault/deposit", depositRequest{Amount: amount}, nil)
}

// MinimumAvailable возвращает доступную к выводу ликвидность; 0 при недоступности.
func (c *Client) MinimumAvailable() int64 {
	var resp availableResponse
	if err := c.getJSON("/api/vault/available", &resp); err != nil {
		return 0
	}
	return resp.Available
}

// WithdrawAvailable выводит не более maxAmount; 0 при недоступности источника.
func (c *Client) WithdrawAvailable(maxAmount int64) int64 {
	if maxAmount <= 0 {
		return 0
	}
	var resp withdrawResponse
	if err := c.postJSON("/api/vault/withdraw", withdrawRequest{Amount: maxAmount}, &resp); err != nil {
		return 0
	}
	return resp.Actual
}

func (c *Client) getJSON(path string, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return retry.RetryableError(fmt.Errorf("vault status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("vault status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

func (c *Client) postJSON(path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	// POST-вызовы не ретраятся: повтор вывода списал бы средства дважды.
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vault status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
