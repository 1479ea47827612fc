// README: Payment gateway refund client (REST, bearer token).
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"delixmi/internal/errs"
)

var ErrRefundFailed = errs.Upstream("REFUND_FAILED", "payment gateway rejected the refund")

type RefundResult struct {
	RefundID string
	Status   string
}

// Gateway is the one capability the dispatch core needs from the payment
// provider. Preference and charge creation belong to the checkout service.
type Gateway interface {
	Refund(ctx context.Context, gatewayRef string, amount decimal.Decimal) (RefundResult, error)
}

type HTTPGateway struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPGateway(baseURL, token string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type refundRequest struct {
	Amount json.Number `json:"amount"`
}

type refundResponse struct {
	ID     json.Number `json:"id"`
	Status string      `json:"status"`
}

func (g *HTTPGateway) Refund(ctx context.Context, gatewayRef string, amount decimal.Decimal) (RefundResult, error) {
	body, err := json.Marshal(refundRequest{Amount: json.Number(amount.String())})
	if err != nil {
		return RefundResult{}, err
	}

	url := fmt.Sprintf("%s/v1/payments/%s/refunds", g.baseURL, gatewayRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return RefundResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.token)
	// The provider deduplicates retried refunds by this key.
	req.Header.Set("X-Idempotency-Key", uuid.NewString())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return RefundResult{}, ErrRefundFailed.With(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return RefundResult{}, ErrRefundFailed.With(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return RefundResult{}, ErrRefundFailed.With(fmt.Errorf("status %d: %s", resp.StatusCode, raw))
	}

	var parsed refundResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return RefundResult{}, ErrRefundFailed.With(err)
	}
	return RefundResult{RefundID: parsed.ID.String(), Status: parsed.Status}, nil
}
