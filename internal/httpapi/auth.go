package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"dentaldesk/schedule-service/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var errInvalidToken = errors.New("invalid token")

type authContextKey struct{}

// Claims identify a signed-in staff member and the clinic they work for.
type Claims struct {
	StaffID  string `json:"staff_id"`
	ClinicID string `json:"clinic_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (a *Authenticator) Issue(staff models.Staff) (string, time.Time, error) {
	now := a.now()
	expiresAt := now.Add(a.ttl)
	claims := Claims{
		StaffID:  staff.StaffID,
		ClinicID: staff.ClinicID,
		Role:     staff.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   staff.StaffID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (a *Authenticator) Parse(raw string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return Claims{}, errInvalidToken
	}
	if claims.ClinicID == "" || claims.StaffID == "" {
		return Claims{}, errInvalidToken
	}
	return claims, nil
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing token")
			return
		}
		claims, err := a.Parse(token)
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func checkPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func claimsFromContext(ctx context.Context) (Claims, bool) {
	value := ctx.Value(authContextKey{})
	if value == nil {
		return Claims{}, false
	}
	claims, ok := value.(Claims)
	return claims, ok
}

func requireClinic(w http.ResponseWriter, r *http.Request, clinicID string) bool {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing token")
		return false
	}
	if clinicID == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "clinic_id is required")
		return false
	}
	if claims.ClinicID != clinicID {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "clinic access denied")
		return false
	}
	return true
}

// requireAdmin guards clinic settings, which only clinic admins may change.
func requireAdmin(w http.ResponseWriter, r *http.Request, clinicID string) bool {
	if !requireClinic(w, r, clinicID) {
		return false
	}
	claims, _ := claimsFromContext(r.Context())
	if claims.Role != models.RoleAdmin {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "admin role required")
		return false
	}
	return true
}

func actorFromContext(ctx context.Context) string {
	claims, ok := claimsFromContext(ctx)
	if !ok {
		return ""
	}
	return claims.StaffID
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics", "/api/auth/login":
		return true
	case "/api/public/bookings":
		return r.Method == http.MethodPost
	default:
		return r.Method == http.MethodOptions
	}
}
