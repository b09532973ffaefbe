package admission

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"mediaforge/internal/logging"
)

// ClientID derives the bucket a request is charged to: the bearer credential
// when it matches token, then the first forwarded address, then the peer
// address. Unverified credentials never select a bucket.
func ClientID(r *http.Request, token string) string {
	if token != "" {
		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if ok && subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1 {
			sum := sha256.Sum256([]byte(presented))
			return "key:" + hex.EncodeToString(sum[:8])
		}
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return "ip:" + first
		}
	}
	if remote := strings.TrimSpace(r.RemoteAddr); remote != "" {
		host, _, err := net.SplitHostPort(remote)
		if err != nil {
			host = remote
		}
		if host != "" {
			return "ip:" + host
		}
	}
	return "unknown"
}

type denial struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after"`
	Limit      int    `json:"limit"`
}

// Middleware charges every non-exempt request and answers 429 once a client
// exhausts its window. A nil Controller passes everything through.
func (c *Controller) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.exempted(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		client := ClientID(r, c.credential)
		decision := c.RecordIfAllowed(r.Context(), client)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(c.window.Seconds())
		c.logger.Info("request denied",
			logging.Args(append(logging.DecisionAttrs("admission", "denied", "window exhausted"),
				logging.String(logging.FieldClientID, client),
				logging.String("path", r.URL.Path),
			)...)...,
		)
		h.Set("Retry-After", strconv.Itoa(retryAfter))
		h.Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(denial{
			Error:      "rate limit exceeded",
			RetryAfter: retryAfter,
			Limit:      decision.Limit,
		})
	})
}

func (c *Controller) exempted(path string) bool {
	for _, prefix := range c.exempt {
		prefix = strings.TrimSuffix(strings.TrimSpace(prefix), "*")
		if prefix == "" {
			continue
		}
		if path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}
