// Package payment defines the external payment collaborator. Two rails
// exist (card and crypto); both expose the same transfer contract and
// return the uniform ok/data-or-message envelope.
package payment

import (
	"context"
	"strings"
)

// FeePercent is the platform cut taken on every ticket exchange.
const FeePercent = 0.05

type Rail string

const (
	RailCard   Rail = "card"
	RailCrypto Rail = "crypto"
)

var cryptoCurrencies = map[string]struct{}{
	"BTC":  {},
	"ETH":  {},
	"USDT": {},
	"USDC": {},
}

// RailFor picks the settlement rail by currency.
func RailFor(currency string) Rail {
	if _, ok := cryptoCurrencies[strings.ToUpper(currency)]; ok {
		return RailCrypto
	}
	return RailCard
}

// Payout is the amount forwarded to the ticket seller after the
// platform fee.
func Payout(price float64) float64 {
	return price * (1 - FeePercent)
}

// Result is the uniform envelope both rails return.
type Result struct {
	Ok      bool        `json:"ok"`
	Data    *ResultData `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

type ResultData struct {
	TransactionId string `json:"transaction_id"`
}

// InsufficientLiquidity reports whether a failed transfer was rejected
// because the rail's float is short, which is retryable once the
// operator tops up.
func (r Result) InsufficientLiquidity() bool {
	return !r.Ok && strings.Contains(strings.ToLower(r.Message), "insufficient")
}

// Gateway is the transfer contract the rails expose. A returned error
// means the call itself failed; a Result with Ok false means the rail
// rejected the transfer.
type Gateway interface {
	TransferFunds(ctx context.Context, destination string, amount float64, currency string) (Result, error)
}
