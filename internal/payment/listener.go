package payment

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"ozontrans/internal/infra"
)

const returnPage = `<!doctype html>
<html><head><meta charset="utf-8"><title>Payment complete</title></head>
<body><p>Payment received. You can close this tab and return to the terminal.</p></body></html>
`

// Listener runs a loopback HTTP server whose only job is to catch the
// provider redirect and hand its query to the resolver. The gateway's
// return_url points at it for the duration of one recharge.
type Listener struct {
	resolver *Resolver
	logger   *infra.Logger
	addr     string

	mu       sync.Mutex
	bound    string
	verified bool
}

// NewListener wires a listener for the given loopback address.
func NewListener(resolver *Resolver, logger *infra.Logger, addr string) *Listener {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	if addr == "" {
		addr = "127.0.0.1:8343"
	}
	return &Listener{resolver: resolver, logger: logger, addr: addr}
}

// ReturnURL is the address the payment gateway should redirect to.
// Once the listener is serving, it reflects the actually bound port.
func (l *Listener) ReturnURL() string {
	l.mu.Lock()
	addr := l.bound
	l.mu.Unlock()
	if addr == "" {
		addr = l.addr
	}
	return "http://" + addr + "/payment/return"
}

// WaitForReturn serves until the provider redirect arrives or the
// context is cancelled. It reports whether a payment was verified.
func (l *Listener) WaitForReturn(ctx context.Context) (bool, error) {
	type outcome struct{ verified bool }
	got := make(chan outcome, 1)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/payment/return", func(w http.ResponseWriter, req *http.Request) {
		cleaned, verified := l.resolver.Resolve(req.Context(), req.URL)
		if verified && cleaned != nil {
			// Send the browser to the cleaned location so reloading the
			// tab cannot replay the gateway parameters. The follow-up
			// request lands below and serves the page.
			l.mu.Lock()
			l.verified = true
			l.mu.Unlock()
			http.Redirect(w, req, cleaned.String(), http.StatusSeeOther)
			return
		}
		l.mu.Lock()
		sawPayment := l.verified
		l.mu.Unlock()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(returnPage))
		select {
		case got <- outcome{verified: sawPayment}:
		default:
		}
	})

	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	l.bound = ln.Addr().String()
	l.mu.Unlock()
	srv := &http.Server{
		Handler:           r,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	l.logger.Info().Str("addr", l.addr).Msg("payment: waiting for provider redirect")
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-serveErr:
		return false, err
	case out := <-got:
		// Let the response flush before shutdown.
		time.Sleep(100 * time.Millisecond)
		return out.verified, nil
	}
}
