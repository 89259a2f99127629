package metrics

import (
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
)

const pprofPrefix = "/debug/pprof/"

// ServeConfig controls the metrics listener.
//
// Pprof mounts the runtime profiler next to /metrics. On a non-loopback
// address it is refused unless Token is set.
type ServeConfig struct {
	Addr  string
	Pprof bool
	Token string
}

func (c ServeConfig) check() error {
	if c.Pprof && c.Token == "" && !isLoopbackAddr(c.Addr) {
		return errors.New("pprof refused: non-loopback addr without token")
	}
	return nil
}

func mountPprof(mux *http.ServeMux, token string) {
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(token, h) }
	mux.HandleFunc(pprofPrefix, wrap(hpprof.Index))
	mux.HandleFunc(pprofPrefix+"cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc(pprofPrefix+"profile", wrap(hpprof.Profile))
	mux.HandleFunc(pprofPrefix+"symbol", wrap(hpprof.Symbol))
	mux.HandleFunc(pprofPrefix+"trace", wrap(hpprof.Trace))
}

// withAuth accepts the token as ?token= or a Bearer header. An empty token disables the check.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == tok {
			h(w, r)
			return
		}
		if ah, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && strings.TrimSpace(ah) == tok {
			h(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
