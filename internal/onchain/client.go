package onchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/duelbackend/arena/internal/config"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// HTTPClient submits settlements to the escrow program's RPC endpoint over
// HTTP, pacing requests with a token bucket and retrying with exponential
// backoff up to cfg.OnChain.MaxRetries times (§5, §6.4).
type HTTPClient struct {
	http    *http.Client
	limiter *rate.Limiter
	cfg     *config.OnChainConfig
}

// NewHTTPClient builds an HTTPClient from config.
func NewHTTPClient(cfg *config.Config) *HTTPClient {
	return &HTTPClient{
		http:    &http.Client{Timeout: cfg.OnChain.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.OnChain.RateLimit), 1),
		cfg:     &cfg.OnChain,
	}
}

type settleRequestBody struct {
	MatchID   string `json:"matchId"`
	Player1   string `json:"player1"`
	Player2   string `json:"player2"`
	BetAmount string `json:"betAmount"`
	Winner    string `json:"winner,omitempty"`
}

type settleResponseBody struct {
	GameID string `json:"gameId"`
}

// Settle POSTs the settlement to the RPC endpoint, retrying failures
// (non-2xx, timeout, network error, undecodable body) with exponential
// backoff. The response body is not inspected for a rejection by the
// program, so every failure is retried alike and ends in ErrUnavailable.
func (c *HTTPClient) Settle(ctx context.Context, req SettlementRequest) (SettlementResult, error) {
	body, err := json.Marshal(settleRequestBody{
		MatchID:   req.MatchID,
		Player1:   req.Player1,
		Player2:   req.Player2,
		BetAmount: req.BetAmount,
		Winner:    req.Winner,
	})
	if err != nil {
		return SettlementResult{}, fmt.Errorf("onchain.Settle: marshal: %w", err)
	}

	var lastErr error
	backoff := c.cfg.RetryBackoff
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return SettlementResult{}, fmt.Errorf("onchain.Settle: rate limiter: %w", err)
		}

		result, err := c.attempt(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt < c.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return SettlementResult{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return SettlementResult{}, fmt.Errorf("%w: %s after %d attempts: %v", ErrUnavailable, c.cfg.RPCURL, c.cfg.MaxRetries, lastErr)
}

func (c *HTTPClient) attempt(ctx context.Context, body []byte) (SettlementResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RPCURL, bytes.NewReader(body))
	if err != nil {
		return SettlementResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return SettlementResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SettlementResult{}, fmt.Errorf("rpc returned status %d", resp.StatusCode)
	}

	var out settleResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SettlementResult{}, fmt.Errorf("decode response: %w", err)
	}
	return SettlementResult{GameID: out.GameID}, nil
}

type verifyDepositResponseBody struct {
	Recipient string `json:"recipient"`
	Sender    string `json:"sender"`
	Mint      string `json:"mint"`
	Amount    string `json:"amount"`
}

// VerifyDeposit GETs the transaction detail for txSig from the RPC
// endpoint. Unlike Settle this is not retried: a deposit claim should fail
// fast on a transport error so the caller can unclaim the signature rather
// than hold it while backing off.
func (c *HTTPClient) VerifyDeposit(ctx context.Context, txSig, owner string) (DepositInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return DepositInfo{}, fmt.Errorf("onchain.VerifyDeposit: rate limiter: %w", err)
	}

	url := fmt.Sprintf("%s/tx/%s?owner=%s", c.cfg.RPCURL, txSig, owner)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return DepositInfo{}, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return DepositInfo{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return DepositInfo{}, fmt.Errorf("%w: rpc returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var out verifyDepositResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return DepositInfo{}, fmt.Errorf("onchain.VerifyDeposit: decode response: %w", err)
	}
	amount, err := decimal.NewFromString(out.Amount)
	if err != nil {
		return DepositInfo{}, fmt.Errorf("onchain.VerifyDeposit: parse amount %q: %w", out.Amount, err)
	}
	return DepositInfo{Recipient: out.Recipient, Sender: out.Sender, Mint: out.Mint, Amount: amount}, nil
}

type transferRequestBody struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type transferResponseBody struct {
	TxSignature string `json:"txSignature"`
}

// Transfer POSTs a withdrawal transfer to the RPC endpoint, retrying
// transient failures the same way Settle does.
func (c *HTTPClient) Transfer(ctx context.Context, recipient string, amount decimal.Decimal) (TransferResult, error) {
	body, err := json.Marshal(transferRequestBody{Recipient: recipient, Amount: amount.String()})
	if err != nil {
		return TransferResult{}, fmt.Errorf("onchain.Transfer: marshal: %w", err)
	}

	var lastErr error
	backoff := c.cfg.RetryBackoff
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return TransferResult{}, fmt.Errorf("onchain.Transfer: rate limiter: %w", err)
		}

		result, err := c.transferAttempt(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt < c.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return TransferResult{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return TransferResult{}, fmt.Errorf("%w: %s after %d attempts: %v", ErrUnavailable, c.cfg.RPCURL, c.cfg.MaxRetries, lastErr)
}

func (c *HTTPClient) transferAttempt(ctx context.Context, body []byte) (TransferResult, error) {
	url := c.cfg.RPCURL + "/transfer"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return TransferResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return TransferResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return TransferResult{}, fmt.Errorf("rpc returned status %d", resp.StatusCode)
	}

	var out transferResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return TransferResult{}, fmt.Errorf("decode response: %w", err)
	}
	return TransferResult{TxSignature: out.TxSignature}, nil
}

// NoopClient always succeeds with synthetic results, for environments with
// no escrow RPC configured (local dev, tests). Vault and USDCMint should
// mirror the values the caller validates against so ConfirmDeposit accepts
// the synthesized deposit in that environment.
type NoopClient struct {
	Vault    string
	USDCMint string
}

// Settle implements Client.
func (NoopClient) Settle(_ context.Context, req SettlementRequest) (SettlementResult, error) {
	return SettlementResult{GameID: "noop-" + req.MatchID}, nil
}

// VerifyDeposit implements Client, synthesizing a deposit from owner that
// always passes recipient/sender/mint validation.
func (n NoopClient) VerifyDeposit(_ context.Context, txSig, owner string) (DepositInfo, error) {
	return DepositInfo{
		Recipient: n.Vault,
		Sender:    owner,
		Mint:      n.USDCMint,
		Amount:    decimal.NewFromInt(100),
	}, nil
}

// Transfer implements Client, always succeeding with a synthetic signature.
func (n NoopClient) Transfer(_ context.Context, recipient string, amount decimal.Decimal) (TransferResult, error) {
	return TransferResult{TxSignature: "noop-transfer-" + recipient}, nil
}
