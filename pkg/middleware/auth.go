// Package middleware provides HTTP middleware for the portal API.
package middleware

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tcmartin/devportal/pkg/auth"
	"github.com/tcmartin/devportal/pkg/logging"
	"github.com/tcmartin/devportal/pkg/storage"
)

// OrgHeader selects the organization a request acts on
const OrgHeader = "X-Organization-ID"

// MembershipLister finds the organizations a user belongs to
type MembershipLister interface {
	ListMemberships(userID string) ([]storage.Membership, error)
}

// AuthMiddleware authenticates bearer tokens
type AuthMiddleware struct {
	validator   auth.TokenValidator
	memberships MembershipLister
	rateLimiter *RateLimiter
	logger      logging.Logger
}

// NewAuthMiddleware creates a new authentication middleware. maxFailures
// bounds failed attempts per client per minute. memberships may be nil, in
// which case only admins may switch organizations.
func NewAuthMiddleware(validator auth.TokenValidator, memberships MembershipLister, maxFailures int, logger logging.Logger) *AuthMiddleware {
	if maxFailures <= 0 {
		maxFailures = 100
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &AuthMiddleware{
		validator:   validator,
		memberships: memberships,
		rateLimiter: NewRateLimiter(maxFailures, time.Minute),
		logger:      logger,
	}
}

// Authenticate is middleware that authenticates requests
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS preflight carries no credentials
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeJSONError(w, http.StatusUnauthorized, "authorization required")
			return
		}

		clientIP := clientAddr(r)
		if m.rateLimiter.IsLimited(clientIP) {
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		principal, err := m.validator.ValidateToken(token)
		if err != nil {
			m.rateLimiter.Record(clientIP)
			m.logger.WithContext(r.Context()).Debug("authentication failed",
				logging.F("client", clientIP), logging.Err(err))
			writeJSONError(w, http.StatusUnauthorized, "authentication failed")
			return
		}

		if requested := strings.TrimSpace(r.Header.Get(OrgHeader)); requested != "" && requested != principal.OrgID {
			switched, err := m.switchOrg(principal, requested)
			if err != nil {
				writeJSONError(w, http.StatusForbidden, "not a member of the requested organization")
				return
			}
			principal = switched
		}

		ctx := auth.WithPrincipal(r.Context(), principal)
		ctx = auth.WithBearerToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

var errNotMember = errors.New("not a member")

// switchOrg returns p acting on orgID, with the role held there
func (m *AuthMiddleware) switchOrg(p auth.Principal, orgID string) (auth.Principal, error) {
	if m.memberships != nil {
		memberships, err := m.memberships.ListMemberships(p.UserID)
		if err != nil {
			return auth.Principal{}, err
		}
		for _, ms := range memberships {
			if ms.OrgID == orgID {
				p.OrgID = orgID
				p.Role = ms.Role
				return p, nil
			}
		}
	}
	if p.IsAdmin() && m.memberships == nil {
		p.OrgID = orgID
		return p, nil
	}
	return auth.Principal{}, errNotMember
}

// GetPrincipal retrieves the caller from the request context
func GetPrincipal(r *http.Request) (auth.Principal, bool) {
	return auth.PrincipalFromContext(r.Context())
}

// RequireRole rejects callers whose role does not satisfy allowed
func RequireRole(allowed func(auth.Principal) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := GetPrincipal(r)
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !allowed(p) {
				writeJSONError(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	// browsers cannot set headers on websocket upgrades
	if r.Header.Get("Upgrade") != "" {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimiter counts failed attempts per client in a sliding window
type RateLimiter struct {
	attempts   map[string][]time.Time
	limit      int
	window     time.Duration
	mu         sync.Mutex
	cleanupInt time.Duration
	lastClean  time.Time
	now        func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		attempts:   make(map[string][]time.Time),
		limit:      limit,
		window:     window,
		cleanupInt: 5 * time.Minute,
		lastClean:  time.Now(),
		now:        time.Now,
	}
}

// IsLimited checks if a client is rate limited
func (r *RateLimiter) IsLimited(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.lastClean) > r.cleanupInt {
		r.cleanup(now)
		r.lastClean = now
	}

	cutoff := now.Add(-r.window)
	count := 0
	for _, t := range r.attempts[clientID] {
		if t.After(cutoff) {
			count++
		}
	}
	return count >= r.limit
}

// Record records a failed attempt
func (r *RateLimiter) Record(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts[clientID] = append(r.attempts[clientID], r.now())
}

func (r *RateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-r.window)
	for clientID, attempts := range r.attempts {
		var valid []time.Time
		for _, t := range attempts {
			if t.After(cutoff) {
				valid = append(valid, t)
			}
		}
		if len(valid) > 0 {
			r.attempts[clientID] = valid
		} else {
			delete(r.attempts, clientID)
		}
	}
}
