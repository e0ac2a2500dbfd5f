package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role is a console user's role within a clinic.
type Role string

const (
	RoleCEO          Role = "ceo"
	RoleProfessional Role = "professional"
	RoleSecretary    Role = "secretary"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCEO, RoleProfessional, RoleSecretary:
		return true
	}
	return false
}

// ErrClosed is returned when an operation needs a live session.
var ErrClosed = errors.New("session: closed")

// Claims is the JWT payload issued by the clinic auth service.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	TenantID string `json:"tenant_id"`
	// ProfessionalID links a professional's login to their agenda.
	ProfessionalID string `json:"professional_id,omitempty"`
}

// Session is the explicit authenticated-user context of one console login.
// It is created from a token and torn down by Logout or token expiry; every
// component that must stop on logout watches Done.
type Session struct {
	ID        string
	UserID    string
	Email     string
	Role      Role
	TenantID  string
	Token     string
	ExpiresAt time.Time
	// ProfessionalID is set for professionals only.
	ProfessionalID string

	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	expiry  *time.Timer
	onClose []func()
}

// New creates a live session. A non-zero ExpiresAt schedules an automatic
// Logout.
func New(id, userID, email string, role Role, tenantID, token string, expiresAt time.Time) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{
		ID:        id,
		UserID:    userID,
		Email:     email,
		Role:      role,
		TenantID:  tenantID,
		Token:     token,
		ExpiresAt: expiresAt,
		done:      make(chan struct{}),
	}
	if !expiresAt.IsZero() {
		wait := time.Until(expiresAt)
		if wait <= 0 {
			s.closed = true
			close(s.done)
			return s
		}
		s.expiry = time.AfterFunc(wait, s.Logout)
	}
	return s
}

// Parse validates an HS256 token and returns its claims.
func Parse(token, secret string) (*Claims, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("session: signing secret not configured")
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("session: parse token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("session: invalid token")
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.TenantID == "" {
		return nil, errors.New("session: token has no tenant")
	}
	return claims, nil
}

// FromToken parses token and opens a session for it.
func FromToken(token, secret string) (*Session, error) {
	claims, err := Parse(token, secret)
	if err != nil {
		return nil, err
	}
	var expires time.Time
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	return fromClaims(claims, token, expires), nil
}

// Open builds a session from a token handed to a console host. The
// signature is not checked here; the API verifies it on every request.
func Open(token string) (*Session, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("session: parse token: %w", err)
	}
	if claims.TenantID == "" {
		return nil, errors.New("session: token has no tenant")
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(time.Now()) {
		return nil, errors.New("session: token expired")
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	var expires time.Time
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	return fromClaims(claims, token, expires), nil
}

func fromClaims(claims *Claims, token string, expires time.Time) *Session {
	s := New(claims.ID, claims.UserID, claims.Email, claims.Role, claims.TenantID, token, expires)
	if claims.Role == RoleProfessional {
		s.ProfessionalID = claims.ProfessionalID
	}
	return s
}

// CanEditProfessional reports whether the user may change the working hours
// of professionalID: administrators for anyone, professionals for
// themselves only.
func (s *Session) CanEditProfessional(professionalID string) bool {
	switch s.Role {
	case RoleCEO, RoleSecretary:
		return true
	case RoleProfessional:
		return s.ProfessionalID != "" && s.ProfessionalID == professionalID
	}
	return false
}

// Issue signs claims with secret, setting issue and expiry times from ttl.
func Issue(claims Claims, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
	if claims.Subject == "" {
		claims.Subject = claims.UserID
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("session: sign token: %w", err)
	}
	return signed, nil
}

// Authenticated reports whether the session is still live.
func (s *Session) Authenticated() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.ExpiresAt.IsZero() || time.Now().Before(s.ExpiresAt)
}

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// OnLogout registers fn to run once at teardown. If the session is already
// closed fn runs immediately.
func (s *Session) OnLogout(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

// Logout tears the session down. Safe to call more than once.
func (s *Session) Logout() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.expiry != nil {
		s.expiry.Stop()
	}
	hooks := s.onClose
	s.onClose = nil
	close(s.done)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

type ctxKey string

const sessionKey ctxKey = "dentalogic.session"

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// FromContext returns the session stored by WithSession.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey).(*Session)
	return s, ok && s != nil
}
