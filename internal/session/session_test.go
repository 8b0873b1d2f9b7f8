package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"ozontrans/internal/domain"
)

type fakeBalanceAPI struct {
	credits int
	err     error
	calls   int
}

func (f *fakeBalanceAPI) Balance(ctx context.Context, token string) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.credits, nil
}

type fakeStore struct {
	token      string
	saveCalls  int
	clearCalls int
}

func (f *fakeStore) Token(ctx context.Context) (string, error) { return f.token, nil }
func (f *fakeStore) SaveToken(ctx context.Context, token string) error {
	f.token = token
	f.saveCalls++
	return nil
}
func (f *fakeStore) ClearToken(ctx context.Context) error {
	f.token = ""
	f.clearCalls++
	return nil
}

func newTestSession(t *testing.T, api BalanceAPI, store TokenStore, onExpired func()) *Session {
	t.Helper()
	s, err := New(context.Background(), Options{API: api, Store: store, OnAuthExpired: onExpired})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return s
}

func TestRefreshWithoutCredentialIsNoop(t *testing.T) {
	api := &fakeBalanceAPI{credits: 50}
	s := newTestSession(t, api, nil, nil)

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if api.calls != 0 {
		t.Fatalf("expected no network call, got %d", api.calls)
	}
	if _, ok := s.Balance(); ok {
		t.Fatal("expected no cached balance")
	}
}

func TestRefreshReplacesBalanceWholesale(t *testing.T) {
	api := &fakeBalanceAPI{credits: 80}
	s := newTestSession(t, api, &fakeStore{token: "tok"}, nil)

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if got, ok := s.Balance(); !ok || got != 80 {
		t.Fatalf("balance mismatch: got %d ok=%v", got, ok)
	}

	// Idempotent without intervening server-side change.
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh returned error: %v", err)
	}
	if got, _ := s.Balance(); got != 80 {
		t.Fatalf("balance changed without server change: %d", got)
	}
}

func TestRefreshKeepsStaleBalanceOnTransientFailure(t *testing.T) {
	api := &fakeBalanceAPI{credits: 30}
	s := newTestSession(t, api, &fakeStore{token: "tok"}, nil)
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	api.err = fmt.Errorf("connection reset")
	if err := s.Refresh(context.Background()); err == nil {
		t.Fatal("expected error from failing refresh")
	}
	if got, ok := s.Balance(); !ok || got != 30 {
		t.Fatalf("stale balance should survive transient failure, got %d ok=%v", got, ok)
	}
	if _, ok := s.Credential(); !ok {
		t.Fatal("credential should survive transient failure")
	}
}

func TestRefreshAuthExpiryClearsCredentialAndBalance(t *testing.T) {
	store := &fakeStore{token: "tok"}
	api := &fakeBalanceAPI{credits: 30}
	expired := false
	s := newTestSession(t, api, store, func() { expired = true })
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	api.err = fmt.Errorf("%w: status 401", domain.ErrAuthExpired)
	err := s.Refresh(context.Background())
	if !errors.Is(err, domain.ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	if _, ok := s.Credential(); ok {
		t.Fatal("credential should be cleared")
	}
	if _, ok := s.Balance(); ok {
		t.Fatal("balance should be cleared")
	}
	if store.clearCalls != 1 {
		t.Fatalf("expected 1 store clear, got %d", store.clearCalls)
	}
	if !expired {
		t.Fatal("expected OnAuthExpired callback")
	}
}

func TestNoteAuthFailureIgnoresOtherErrors(t *testing.T) {
	store := &fakeStore{token: "tok"}
	s := newTestSession(t, &fakeBalanceAPI{}, store, nil)

	s.NoteAuthFailure(context.Background(), fmt.Errorf("timeout"))
	if _, ok := s.Credential(); !ok {
		t.Fatal("credential should survive non-auth errors")
	}

	s.NoteAuthFailure(context.Background(), fmt.Errorf("wrap: %w", domain.ErrAuthExpired))
	if _, ok := s.Credential(); ok {
		t.Fatal("credential should be cleared on auth failure")
	}
}

func TestSetCredentialSeedsBalance(t *testing.T) {
	store := &fakeStore{}
	s := newTestSession(t, &fakeBalanceAPI{}, store, nil)

	if err := s.SetCredential(context.Background(), "fresh", 120); err != nil {
		t.Fatalf("SetCredential returned error: %v", err)
	}
	if tok, ok := s.Credential(); !ok || tok != "fresh" {
		t.Fatalf("credential mismatch: %q ok=%v", tok, ok)
	}
	if got, ok := s.Balance(); !ok || got != 120 {
		t.Fatalf("seeded balance mismatch: %d ok=%v", got, ok)
	}
	if store.saveCalls != 1 {
		t.Fatalf("expected persisted token, saves=%d", store.saveCalls)
	}
}

func TestClearDropsEverything(t *testing.T) {
	store := &fakeStore{token: "tok"}
	s := newTestSession(t, &fakeBalanceAPI{credits: 10}, store, nil)
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	if err := s.Clear(context.Background()); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}
	if _, ok := s.Credential(); ok {
		t.Fatal("credential should be gone")
	}
	if _, ok := s.Balance(); ok {
		t.Fatal("balance should be gone")
	}
	if store.clearCalls != 1 {
		t.Fatalf("expected store clear, got %d", store.clearCalls)
	}
}
