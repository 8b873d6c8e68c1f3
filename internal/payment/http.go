package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

const defaultTimeout = 15 * time.Second

// HTTPGateway talks to a rail's transfer endpoint over JSON.
type HTTPGateway struct {
	log     *log.Logger
	client  *http.Client
	baseUrl string
	rail    Rail
}

func NewHTTPGateway(logger *log.Logger, baseUrl string, rail Rail) *HTTPGateway {
	return &HTTPGateway{
		log:     logger,
		client:  &http.Client{Timeout: defaultTimeout},
		baseUrl: baseUrl,
		rail:    rail,
	}
}

type transferRequest struct {
	Destination string  `json:"destination"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
}

func (g *HTTPGateway) TransferFunds(ctx context.Context, destination string, amount float64, currency string) (Result, error) {
	body, err := json.Marshal(transferRequest{
		Destination: destination,
		Amount:      amount,
		Currency:    currency,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal transfer request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/transfer", g.baseUrl, g.rail)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("transfer request failed: %w", err)
	}
	defer resp.Body.Close()

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("failed to decode transfer response: %w", err)
	}

	if !result.Ok {
		g.log.Printf("transfer rejected by %s rail: %s", g.rail, result.Message)
	}

	return result, nil
}
