package loginflow

import (
	"context"
	"crypto/subtle"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"irisctl/internal/session"
	"irisctl/pkg/logging"
)

// Relay endpoints, served next to the redirect path.
const (
	relayPath  = "/_irisctl/relay"
	cancelPath = "/_irisctl/cancel"
)

// nonceHeader carries the per-login nonce on relay posts. The cancel form
// sends it as the "nonce" field.
const nonceHeader = "X-Irisctl-Relay-Nonce"

// maxRelayBody caps a posted location.
const maxRelayBody = 16 << 10

// promptParam asks the SSO provider to ignore any existing session.
const promptParam = "prompt"

//go:embed templates/relay.html
var relayHTML string

var relayTemplate = template.Must(template.New("relay").Parse(relayHTML))

// Config configures a Browser.
type Config struct {
	// RedirectURL is where the SSO page sends the browser after login. Its
	// host is where the relay listens.
	RedirectURL string

	// Launch opens a URL. Defaults to OpenBrowser.
	Launch func(url string) error

	// Out receives instructions for the user. Defaults to os.Stderr.
	Out io.Writer

	// Timeout, when positive, treats a login page still open after this long
	// as closed by the user. Zero waits until the context ends.
	Timeout time.Duration
}

// Browser is a session.LoginFlow backed by the system browser.
type Browser struct {
	redirect *url.URL
	launch   func(string) error
	out      io.Writer
	timeout  time.Duration
}

// New validates cfg and returns a Browser.
func New(cfg Config) (*Browser, error) {
	redirect, err := url.Parse(cfg.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URL %q: %w", cfg.RedirectURL, err)
	}
	if redirect.Scheme != "http" {
		return nil, fmt.Errorf("redirect URL %q must use http on a loopback host", cfg.RedirectURL)
	}
	if redirect.Port() == "" {
		return nil, fmt.Errorf("redirect URL %q must name a port", cfg.RedirectURL)
	}

	b := &Browser{
		redirect: redirect,
		launch:   cfg.Launch,
		out:      cfg.Out,
		timeout:  cfg.Timeout,
	}
	if b.launch == nil {
		b.launch = OpenBrowser
	}
	if b.out == nil {
		b.out = os.Stderr
	}
	return b, nil
}

// LoginURL returns loginURL adjusted for opts.
func LoginURL(loginURL string, opts session.FlowOptions) (string, error) {
	if !opts.ClearSession {
		return loginURL, nil
	}
	u, err := url.Parse(loginURL)
	if err != nil {
		return "", fmt.Errorf("invalid login URL %q: %w", loginURL, err)
	}
	q := u.Query()
	q.Set(promptParam, "login")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open starts the relay and opens loginURL in the browser. It fails only
// when the relay cannot listen; a browser that cannot be launched is
// reported to the user instead.
func (b *Browser) Open(ctx context.Context, loginURL string, opts session.FlowOptions) (session.FlowHandle, error) {
	target, err := LoginURL(loginURL, opts)
	if err != nil {
		return nil, err
	}

	listeners, err := listenLoopback(b.redirect)
	if err != nil {
		return nil, fmt.Errorf("failed to start login relay on %s: %w", b.redirect.Host, err)
	}

	h := newHandle(b.redirect, listeners)
	h.serve()

	fmt.Fprintf(b.out, "Opening browser for login...\n")
	fmt.Fprintf(b.out, "If the browser doesn't open, visit:\n  %s\n\n", target)
	if err := b.launch(target); err != nil {
		fmt.Fprintf(b.out, "Failed to open browser: %v\n", err)
	}

	go func() {
		var expired <-chan time.Time
		if b.timeout > 0 {
			timer := time.NewTimer(b.timeout)
			defer timer.Stop()
			expired = timer.C
		}
		select {
		case <-expired:
			logging.Info("LoginFlow", "Login page not completed within %s", b.timeout)
			h.exit()
		case <-ctx.Done():
			h.exit()
		case <-h.done:
		}
	}()

	return h, nil
}

// listenLoopback binds the redirect port. A "localhost" redirect binds both
// loopback families, since the browser may resolve either one first; only
// the IPv4 bind is required.
func listenLoopback(redirect *url.URL) ([]net.Listener, error) {
	host, port := redirect.Hostname(), redirect.Port()
	if host != "localhost" {
		l, err := net.Listen("tcp", net.JoinHostPort(host, port))
		if err != nil {
			return nil, err
		}
		return []net.Listener{l}, nil
	}

	v4, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", port))
	if err != nil {
		return nil, err
	}
	listeners := []net.Listener{v4}
	if v6, err := net.Listen("tcp", net.JoinHostPort("::1", port)); err == nil {
		listeners = append(listeners, v6)
	} else {
		logging.Debug("LoginFlow", "Login relay not listening on [::1]:%s: %v", port, err)
	}
	return listeners, nil
}

// handle is the FlowHandle for one browser login.
type handle struct {
	redirect    *url.URL
	listeners   []net.Listener
	server      *http.Server
	nonce       string
	navigations chan string
	exited      chan struct{}
	done        chan struct{}
	exitOnce    sync.Once
	closeOnce   sync.Once
}

func newHandle(redirect *url.URL, listeners []net.Listener) *handle {
	h := &handle{
		redirect:    redirect,
		listeners:   listeners,
		nonce:       uuid.NewString(),
		navigations: make(chan string, 8),
		exited:      make(chan struct{}),
		done:        make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+relayPath, h.handleRelay)
	mux.HandleFunc("POST "+cancelPath, h.handleCancel)
	mux.HandleFunc("GET /", h.handlePage)

	h.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return h
}

func (h *handle) serve() {
	for _, l := range h.listeners {
		logging.Debug("LoginFlow", "Login relay listening on %s", l.Addr())
		go func(l net.Listener) {
			if err := h.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("LoginFlow", err, "Login relay stopped")
				h.exit()
			}
		}(l)
	}
}

// origin is the scheme and host the relay page is served from.
func (h *handle) origin() string {
	return h.redirect.Scheme + "://" + h.redirect.Host
}

// authorized accepts only requests made by the relay page of this login:
// addressed to the redirect host, from its origin, carrying its nonce.
func (h *handle) authorized(r *http.Request, nonce string) bool {
	if r.Host != h.redirect.Host {
		return false
	}
	if origin := r.Header.Get("Origin"); origin != "" && origin != h.origin() {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(nonce), []byte(h.nonce)) == 1
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; script-src 'unsafe-inline'; style-src 'unsafe-inline'; connect-src 'self'; form-action 'self'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
}

// handlePage serves the relay page on the redirect path.
func (h *handle) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != h.redirectPath() {
		http.NotFound(w, r)
		return
	}
	if r.Host != h.redirect.Host {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := map[string]string{
		"Client":     "irisctl",
		"RelayPath":  relayPath,
		"CancelPath": cancelPath,
		"Nonce":      h.nonce,
	}
	if err := relayTemplate.Execute(w, data); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// handleRelay receives the page location, fragment included.
func (h *handle) handleRelay(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)
	if !h.authorized(r, r.Header.Get(nonceHeader)) {
		logging.Warn("LoginFlow", "Rejected relay post from origin %q", r.Header.Get("Origin"))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRelayBody))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	location := strings.TrimSpace(string(body))
	if location == "" {
		http.Error(w, "empty location", http.StatusBadRequest)
		return
	}

	select {
	case h.navigations <- location:
		w.WriteHeader(http.StatusNoContent)
	case <-h.done:
		http.Error(w, "login already finished", http.StatusGone)
	default:
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}
}

// handleCancel is the page's cancel button.
func (h *handle) handleCancel(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)
	r.Body = http.MaxBytesReader(w, r.Body, maxRelayBody)
	if !h.authorized(r, r.PostFormValue("nonce")) {
		logging.Warn("LoginFlow", "Rejected cancel from origin %q", r.Header.Get("Origin"))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Login cancelled. You can close this window.\n")
	h.exit()
}

func (h *handle) redirectPath() string {
	if h.redirect.Path == "" {
		return "/"
	}
	return h.redirect.Path
}

func (h *handle) exit() {
	h.exitOnce.Do(func() { close(h.exited) })
}

// Navigations implements session.FlowHandle.
func (h *handle) Navigations() <-chan string { return h.navigations }

// Exited implements session.FlowHandle.
func (h *handle) Exited() <-chan struct{} { return h.exited }

// Close stops the relay. The browser tab is left for the user to close.
func (h *handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = h.server.Shutdown(ctx)
	})
	return err
}

var _ session.LoginFlow = (*Browser)(nil)
