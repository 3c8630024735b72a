package auth

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/transmental/xterm/internal/tokenstore"
)

// DefaultCallbackPort is used when neither the configuration nor the redirect
// URI names a port.
const DefaultCallbackPort = 8787

const callbackHost = "127.0.0.1"

//go:embed templates/result.html
var templateFS embed.FS

var resultPage = template.Must(template.ParseFS(templateFS, "templates/result.html"))

type page struct {
	Status  int
	Title   string
	Message string
}

var (
	successPage = page{http.StatusOK, "Login successful", "Login successful. You can close this window."}
	failurePage = page{http.StatusBadRequest, "Login failed", "OAuth failed. You can close this window."}
	errorPage   = page{http.StatusInternalServerError, "Login error", "OAuth error. You can close this window."}
)

// ExchangeFunc trades a validated authorization code and its PKCE verifier
// for a token set.
type ExchangeFunc func(ctx context.Context, code, codeVerifier string) (*tokenstore.TokenSet, error)

// PendingLoader reads the pending authorization a callback is validated against.
type PendingLoader interface {
	LoadPending(ctx context.Context) (*tokenstore.PendingAuthorization, bool)
}

// ListenerConfig describes where a Listener binds and which attempt it serves.
type ListenerConfig struct {
	// Addr is the host:port to bind, usually from CallbackAddress.
	Addr string
	// Path is the redirect URI path; every other path is answered with 404.
	Path string
	// Attempt is the id of the login attempt this listener belongs to.
	// Empty disables the ownership check.
	Attempt string
}

type outcome struct {
	tokens *tokenstore.TokenSet
	err    error
}

// Listener is the loopback HTTP server that receives the provider redirect.
// It accepts exactly one terminal callback request per lifetime.
type Listener struct {
	cfg      ListenerConfig
	pending  PendingLoader
	exchange ExchangeFunc

	mux      *http.ServeMux
	server   *http.Server
	listener net.Listener
	baseCtx  context.Context

	consumed atomic.Bool
	outcome  chan outcome
	errCh    <-chan error
}

// Compile-time check that Listener implements http.Handler
var _ http.Handler = (*Listener)(nil)

// NewListener creates a callback listener. Nothing is bound until Start.
func NewListener(cfg ListenerConfig, pending PendingLoader, exchange ExchangeFunc) (*Listener, error) {
	if cfg.Addr == "" {
		return nil, errors.New("listener address cannot be empty")
	}
	if pending == nil {
		return nil, errors.New("missing pending authorization loader")
	}
	if exchange == nil {
		return nil, errors.New("missing exchange function")
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}

	l := &Listener{
		cfg:      cfg,
		pending:  pending,
		exchange: exchange,
		baseCtx:  context.Background(),
		outcome:  make(chan outcome, 1),
	}

	pattern := cfg.Path
	if strings.HasSuffix(pattern, "/") {
		pattern += "{$}"
	}

	// Only the callback route is registered. Other paths get the mux's 404
	// instead of no response, and never consume the one-shot handler.
	l.mux = http.NewServeMux()
	l.mux.Handle("GET "+pattern, applyMiddlewares(http.HandlerFunc(l.handleCallback),
		Logging(slog.Default()),
		Recovery,
	))

	return l, nil
}

// ServeHTTP implements http.Handler interface
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	SecurityHeaders(l.mux).ServeHTTP(w, r)
}

// Start binds the listener and serves in the background.
//
// Bind errors (port in use, permission denied) are returned immediately as
// ErrListenFailed. Runtime errors are sent to the returned channel, which is
// closed once the server stops.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (l *Listener) Start(ctx context.Context) (<-chan error, error) {
	listener, err := net.Listen("tcp", l.cfg.Addr)
	if err != nil {
		return nil, newError(ErrListenFailed, fmt.Sprintf("failed to listen on %s", l.cfg.Addr), err)
	}

	l.listener = listener
	l.baseCtx = ctx
	l.server = &http.Server{
		Handler:           l,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// The exchange round trip happens while the browser waits for the page.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  30 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := l.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	l.errCh = errCh
	return errCh, nil
}

// Addr returns the bound address, or the configured one before Start.
func (l *Listener) Addr() string {
	if l.listener != nil {
		return l.listener.Addr().String()
	}
	return l.cfg.Addr
}

// URL returns the callback URL served by the listener.
func (l *Listener) URL() string {
	u := url.URL{Scheme: "http", Host: l.Addr(), Path: l.cfg.Path}
	return u.String()
}

// Wait blocks until the callback produced its terminal outcome, the server
// failed, or ctx is done.
func (l *Listener) Wait(ctx context.Context) (*tokenstore.TokenSet, error) {
	select {
	case o := <-l.outcome:
		return o.tokens, o.err
	case err, ok := <-l.errCh:
		if ok && err != nil {
			return nil, newError(ErrListenFailed, "callback listener stopped", err)
		}
		// Server closed without an outcome.
		select {
		case o := <-l.outcome:
			return o.tokens, o.err
		default:
		}
		return nil, newError(ErrListenFailed, "callback listener stopped before a callback arrived", nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (l *Listener) Shutdown(ctx context.Context) error {
	if l.server == nil {
		return nil
	}

	if err := l.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = l.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

func (l *Listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// GET patterns also match HEAD; a prefetch must not consume the callback.
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if !l.consumed.CompareAndSwap(false, true) {
		http.Error(w, "callback already processed", http.StatusBadRequest)
		return
	}

	// The flag is spent, so a panic past this point must still end the wait.
	// Recovery writes the response after the re-panic.
	defer func() {
		if rec := recover(); rec != nil {
			l.deliver(outcome{err: newError(ErrExchangeFailed, "", fmt.Errorf("callback handler panicked: %v", rec))})
			panic(rec)
		}
	}()

	msg := ParseCallback(r.URL.Query())
	pending, _ := l.pending.LoadPending(ctx)

	if err := ValidateCallback(pending, l.cfg.Attempt, msg); err != nil {
		slog.WarnContext(ctx, "rejected OAuth callback", "error", err)
		renderPage(w, failurePage)
		l.deliver(outcome{err: err})
		return
	}

	// The exchange outlives the browser connection but not the login.
	tokens, err := l.safeExchange(l.baseCtx, msg.Code, pending.CodeVerifier)
	if err != nil {
		if KindOf(err) != KindExchangeFailed {
			err = newError(ErrExchangeFailed, "", err)
		}
		slog.ErrorContext(ctx, "authorization code exchange failed", "error", err)
		renderPage(w, errorPage)
		l.deliver(outcome{err: err})
		return
	}

	renderPage(w, successPage)
	l.deliver(outcome{tokens: tokens})
}

func (l *Listener) safeExchange(ctx context.Context, code, verifier string) (tokens *tokenstore.TokenSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			tokens = nil
			err = fmt.Errorf("exchange panicked: %v", r)
		}
	}()

	tokens, err = l.exchange(ctx, code, verifier)
	if err == nil && tokens == nil {
		err = errors.New("exchange returned no tokens")
	}
	return tokens, err
}

// deliver hands over the single outcome. Only the request that won the
// consumed flag gets here, so the buffered send never blocks.
func (l *Listener) deliver(o outcome) {
	select {
	case l.outcome <- o:
	default:
	}
}

func renderPage(w http.ResponseWriter, p page) {
	var buf bytes.Buffer
	if err := resultPage.Execute(&buf, p); err != nil {
		http.Error(w, p.Message, p.Status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(p.Status)
	_, _ = w.Write(buf.Bytes())
}

// CallbackAddress derives the loopback bind address and the callback path
// from the redirect URI. An explicit port wins over the URI's port; without
// either DefaultCallbackPort is used. The listener always binds 127.0.0.1.
func CallbackAddress(redirectURI string, port uint16) (addr, path string, err error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", "", fmt.Errorf("invalid redirect URI: %w", err)
	}
	if u.Scheme != "http" {
		return "", "", fmt.Errorf("redirect URI must use http, got %q", u.Scheme)
	}

	p := int(port)
	if p == 0 && u.Port() != "" {
		p, err = strconv.Atoi(u.Port())
		if err != nil {
			return "", "", fmt.Errorf("invalid redirect URI port: %w", err)
		}
	}
	if p == 0 {
		p = DefaultCallbackPort
	}

	path = u.Path
	if path == "" {
		path = "/"
	}

	return net.JoinHostPort(callbackHost, strconv.Itoa(p)), path, nil
}
