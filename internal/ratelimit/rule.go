package ratelimit

import (
	"net/http"
	"path"
	"strings"
	"sync"
	"time"
)

// Rule is a per-route rate limit applied ahead of API-key authentication
// (§4.4.2), e.g. to bound unauthenticated upload/model-listing traffic by
// client IP.
type Rule struct {
	RouteGlob     string // e.g. "/v1/files*"
	Capacity      int64  // requests allowed per window
	WindowSeconds int64
	Identity      string // "ip" or "api-key"
}

// Matches reports whether the rule applies to the given request path.
func (r Rule) Matches(reqPath string) bool {
	ok, err := path.Match(r.RouteGlob, reqPath)
	if err == nil && ok {
		return true
	}
	// path.Match's "*" does not cross "/"; also allow a simple prefix-glob
	// convention ("/v1/files*") for matching subpaths.
	if strings.HasSuffix(r.RouteGlob, "*") {
		return strings.HasPrefix(reqPath, strings.TrimSuffix(r.RouteGlob, "*"))
	}
	return false
}

// identityFor extracts the bucket key for a rule from the request: the
// client IP for "ip" rules, or the Authorization header's bearer token for
// "api-key" rules.
func (r Rule) identityFor(req *http.Request) string {
	if r.Identity == "api-key" {
		auth := req.Header.Get("Authorization")
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return after
		}
		return auth
	}
	host := req.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return host
}

// RuleEngine enforces a fixed set of Rules against incoming requests,
// keeping one Bucket per (rule, identity) pair.
type RuleEngine struct {
	rules []Rule

	mu      sync.Mutex
	buckets map[string]*Bucket
}

// NewRuleEngine builds a RuleEngine from the configured rules.
func NewRuleEngine(rules []Rule) *RuleEngine {
	return &RuleEngine{rules: rules, buckets: make(map[string]*Bucket)}
}

// Allow checks every rule matching req's path, consuming one token from
// each. It returns the first rule that rejects the request (for a 429
// Retry-After response) and whether the request is allowed overall.
func (e *RuleEngine) Allow(req *http.Request) (allowed bool, blocking *Rule, retryAfter float64) {
	if e == nil {
		return true, nil, 0
	}
	now := time.Now()
	for i := range e.rules {
		rule := &e.rules[i]
		if !rule.Matches(req.URL.Path) {
			continue
		}
		key := rule.RouteGlob + "|" + rule.identityFor(req)

		e.mu.Lock()
		b, ok := e.buckets[key]
		if !ok {
			b = &Bucket{
				tokens:   float64(rule.Capacity),
				max:      float64(rule.Capacity),
				rate:     float64(rule.Capacity) / float64(max(rule.WindowSeconds, 1)),
				lastFill: now,
			}
			e.buckets[key] = b
		}
		_, ok2 := b.tryConsume(1, now)
		ra := b.retryAfter(1)
		e.mu.Unlock()

		if !ok2 {
			return false, rule, ra
		}
	}
	return true, nil, 0
}
