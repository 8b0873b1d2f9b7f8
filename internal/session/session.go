package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ozontrans/internal/domain"
	"ozontrans/internal/infra"
)

// BalanceAPI is the remote surface the session depends on.
type BalanceAPI interface {
	Balance(ctx context.Context, token string) (int, error)
}

// TokenStore persists the credential between runs. Implemented by Store;
// tests inject fakes.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	SaveToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

// Options configures a Session.
type Options struct {
	API    BalanceAPI
	Store  TokenStore
	Logger *infra.Logger
	// OnAuthExpired is invoked (without the session lock held) after an
	// authorization failure clears the credential.
	OnAuthExpired func()
}

// Session owns the credential and the cached credit balance. It is the
// sole writer of both: components read through accessors and trigger
// refreshes, never mutate directly.
type Session struct {
	api           BalanceAPI
	store         TokenStore
	logger        *infra.Logger
	onAuthExpired func()

	mu         sync.Mutex
	token      string
	balance    int
	hasBalance bool
}

// New constructs a session, restoring any persisted credential.
func New(ctx context.Context, opts Options) (*Session, error) {
	if opts.API == nil {
		return nil, errors.New("session: api is required")
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	s := &Session{
		api:           opts.API,
		store:         opts.Store,
		logger:        logger,
		onAuthExpired: opts.OnAuthExpired,
	}
	if opts.Store != nil {
		token, err := opts.Store.Token(ctx)
		if err != nil {
			return nil, err
		}
		s.token = token
	}
	return s, nil
}

// Credential returns the bearer token, if present.
func (s *Session) Credential() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

// Balance returns the cached credit count, if one has been fetched.
func (s *Session) Balance() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, s.hasBalance
}

// SetCredential installs a fresh credential (after login or register)
// and seeds the balance cache with the server-reported credits.
func (s *Session) SetCredential(ctx context.Context, token string, credits int) error {
	if token == "" {
		return errors.New("session: token is required")
	}
	s.mu.Lock()
	s.token = token
	s.balance = credits
	s.hasBalance = true
	s.mu.Unlock()
	if s.store != nil {
		return s.store.SaveToken(ctx, token)
	}
	return nil
}

// Clear drops the credential and cached balance (explicit logout).
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.balance = 0
	s.hasBalance = false
	s.mu.Unlock()
	if s.store != nil {
		return s.store.ClearToken(ctx)
	}
	return nil
}

// NoteAuthFailure clears the session when err indicates the server
// rejected the credential. Safe to call with any error; non-auth
// failures are ignored.
func (s *Session) NoteAuthFailure(ctx context.Context, err error) {
	if err == nil || !errors.Is(err, domain.ErrAuthExpired) {
		return
	}
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token != "" {
		s.expire(ctx, token)
	}
}

// Refresh re-fetches the balance from the server. Without a credential
// it is a no-op. On success the cache is replaced wholesale. A 401/403
// clears credential and balance together and reports ErrAuthExpired;
// any other failure keeps the previous cached value.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return nil
	}

	credits, err := s.api.Balance(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrAuthExpired) {
			s.expire(ctx, token)
			return err
		}
		return err
	}

	s.mu.Lock()
	// A logout or expiry may have raced the fetch; its result must not
	// resurrect a cleared session.
	if s.token == token {
		s.balance = credits
		s.hasBalance = true
	}
	s.mu.Unlock()
	return nil
}

// RefreshAsync fires a refresh whose failure is logged and discarded,
// never propagated to the triggering operation.
func (s *Session) RefreshAsync(ctx context.Context) {
	go func() {
		if err := s.Refresh(ctx); err != nil {
			s.logger.Debug().Err(err).Msg("session: background balance refresh failed")
		}
	}()
}

// RunRefreshLoop refreshes the balance on a fixed interval while a
// credential is present, until the context is cancelled.
func (s *Session) RunRefreshLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, ok := s.Credential(); !ok {
				continue
			}
			if err := s.Refresh(ctx); err != nil {
				s.logger.Debug().Err(err).Msg("session: periodic balance refresh failed")
			}
		}
	}
}

func (s *Session) expire(ctx context.Context, observedToken string) {
	s.mu.Lock()
	if s.token != observedToken {
		// Already replaced by a newer login; nothing to invalidate.
		s.mu.Unlock()
		return
	}
	s.token = ""
	s.balance = 0
	s.hasBalance = false
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.ClearToken(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("session: failed to clear stored credential")
		}
	}
	s.logger.Warn().Msg("session: credential rejected by server, login required")
	if s.onAuthExpired != nil {
		s.onAuthExpired()
	}
}
