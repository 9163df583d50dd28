package bridge

import (
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voicebridge/core/pkg/bridgeerr"
)

// Listener accepts WebSocket upgrades on the configured path, gating them
// on a rate limit and a constant-time shared-secret comparison before
// handing the accepted connection to onConnect, per spec.md §4.1.
// Grounded on strawgo-ai's `TwilioWebSocketTransport.handleWebSocket`/
// `Start` shape (an `http.ServeMux` route registered against a bound
// port, one goroutine per accepted connection), adapted from
// `gorilla/websocket`'s `Upgrader.Upgrade` to `coder/websocket.Accept`
// since that is the library the rest of this module already uses.
type Listener struct {
	Path         string
	Secret       string
	RateLimiter  *RateLimiter
	OnConnect    func(connID string, conn *websocket.Conn, remoteAddr string)
}

// NewListener builds a Listener. secret must be at least 32 characters
// (enforced by config.Config.Validate, not re-checked here).
func NewListener(path, secret string, rl *RateLimiter, onConnect func(string, *websocket.Conn, string)) *Listener {
	return &Listener{Path: path, Secret: secret, RateLimiter: rl, OnConnect: onConnect}
}

// Handler returns an http.Handler serving only Path.
func (l *Listener) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(l.Path, l.handleUpgrade)
	return mux
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	addr := sourceAddr(r.RemoteAddr)
	if !l.RateLimiter.Allow(addr) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	if !constantTimeSecretEqual(r.Header.Get("X-Bridge-Secret"), l.Secret) {
		w.WriteHeader(4001)
		fmt.Fprint(w, bridgeerr.ErrUnauthorized.Error())
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	connID := uuid.NewString()
	if l.OnConnect != nil {
		l.OnConnect(connID, conn, addr)
	}
}

// sourceAddr strips the ephemeral client port from a RemoteAddr so the
// rate limiter keys on the caller's host, not a new port per TCP connection.
func sourceAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// constantTimeSecretEqual reports whether got equals want using a
// constant-time comparison for equal-length inputs. Unequal lengths are
// rejected immediately (length is not secret), matching spec.md §4.1's
// "compare ... with constant-time comparison of equal lengths" and §8's
// property P7 (mismatch always looks the same regardless of timing).
func constantTimeSecretEqual(got, want string) bool {
	if len(got) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
