package payment

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestListenerCatchesProviderRedirect(t *testing.T) {
	api := &fakeVerifyAPI{}
	session := &fakeRefresher{}
	resolver := newTestResolver(api, session)
	listener := NewListener(resolver, nil, "127.0.0.1:0")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		verified bool
		err      error
	}
	done := make(chan result, 1)
	go func() {
		verified, err := listener.WaitForReturn(ctx)
		done <- result{verified: verified, err: err}
	}()

	// The bound port is only known once the server is listening.
	var target string
	for {
		if target = listener.ReturnURL(); target != "http://127.0.0.1:0/payment/return" {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatal("listener never bound")
		case <-time.After(5 * time.Millisecond):
		}
	}

	resp, err := http.Get(target + "?trade_status=TRADE_SUCCESS&out_trade_no=abc123&sign=deadbeef")
	if err != nil {
		t.Fatalf("redirect request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from return page, got %d", resp.StatusCode)
	}
	final := resp.Request.URL.Query()
	for _, key := range []string{"trade_status", "out_trade_no", "sign"} {
		if final.Has(key) {
			t.Fatalf("gateway parameter %q survived in the final location %s", key, resp.Request.URL)
		}
	}

	out := <-done
	if out.err != nil {
		t.Fatalf("WaitForReturn returned error: %v", out.err)
	}
	if !out.verified {
		t.Fatal("expected verified payment")
	}
	if len(api.calls) != 1 {
		t.Fatalf("expected one verification call, got %d", len(api.calls))
	}
}

func TestListenerStopsOnCancel(t *testing.T) {
	listener := NewListener(newTestResolver(&fakeVerifyAPI{}, &fakeRefresher{}), nil, "127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := listener.WaitForReturn(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
