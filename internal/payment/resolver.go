package payment

import (
	"context"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ozontrans/internal/infra"
)

// VerifyAPI is the remote surface the resolver depends on.
type VerifyAPI interface {
	VerifyPaymentReturn(ctx context.Context, params url.Values) error
}

// BalanceRefresher lets the resolver kick a balance refresh after a
// verified payment; failures of that refresh never propagate here.
type BalanceRefresher interface {
	RefreshAsync(ctx context.Context)
}

// gatewayParams are the provider-added query parameters stripped from
// the visible location after verification, so a repeated visit to the
// cleaned URL cannot re-trigger the flow.
var gatewayParams = []string{
	"trade_status", "status", "out_trade_no", "trade_no",
	"pid", "type", "name", "money", "sign", "sign_type",
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	API     VerifyAPI
	Session BalanceRefresher
	Logger  *infra.Logger
	// RetryDelay spaces the single bounded retry after a failed
	// verification. Zero gets the default of 5 seconds.
	RetryDelay time.Duration
}

// Resolver handles the redirect back from the external payment
// provider. It runs at most once per process: the server's
// verification endpoint is idempotent per trade, but the client still
// only notifies once per observed return.
type Resolver struct {
	api        VerifyAPI
	session    BalanceRefresher
	logger     *infra.Logger
	retryDelay time.Duration

	mu   sync.Mutex
	done bool
}

// NewResolver wires a resolver.
func NewResolver(opts ResolverOptions) *Resolver {
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &Resolver{api: opts.API, session: opts.Session, logger: logger, retryDelay: delay}
}

// tradeSucceeded mirrors the flag values the gateway is known to send.
func tradeSucceeded(params url.Values) bool {
	flag := params.Get("trade_status")
	if flag == "" {
		flag = params.Get("status")
	}
	switch flag {
	case "TRADE_SUCCESS", "SUCCESS", "success", "1":
		return true
	}
	return false
}

// Resolve inspects the return URL for a successful trade and, when one
// is present, forwards the full parameter set verbatim to the server
// for verification. It reports the cleaned URL (success parameters
// stripped) and whether a payment was verified. Verification failures
// are absorbed after one bounded retry; the periodic balance refresh
// remains the backstop for reconciliation.
func (r *Resolver) Resolve(ctx context.Context, returnURL *url.URL) (*url.URL, bool) {
	if returnURL == nil {
		return nil, false
	}
	params := returnURL.Query()
	outTradeNo := params.Get("out_trade_no")
	if !tradeSucceeded(params) || outTradeNo == "" {
		return returnURL, false
	}

	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return returnURL, false
	}
	r.done = true
	r.mu.Unlock()

	if err := r.verifyWithRetry(ctx, params); err != nil {
		r.logger.Error().Err(err).
			Str("out_trade_no", outTradeNo).
			Msg("payment: return verification failed, balance will reconcile on next refresh")
		return returnURL, false
	}

	r.logger.Info().Str("out_trade_no", outTradeNo).Msg("payment: return verified")
	if r.session != nil {
		r.session.RefreshAsync(ctx)
	}
	return stripGatewayParams(returnURL), true
}

func (r *Resolver) verifyWithRetry(ctx context.Context, params url.Values) error {
	err := r.api.VerifyPaymentReturn(ctx, params)
	if err == nil {
		return nil
	}
	r.logger.Warn().Err(err).Msg("payment: verification failed, retrying once")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.retryDelay):
	}
	return r.api.VerifyPaymentReturn(ctx, params)
}

func stripGatewayParams(u *url.URL) *url.URL {
	cleaned := *u
	q := cleaned.Query()
	for _, key := range gatewayParams {
		q.Del(key)
	}
	cleaned.RawQuery = q.Encode()
	return &cleaned
}
