package identity

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/models"
)

// Claims is the normalized view of a verified credential.
type Claims struct {
	ID         string
	Role       models.Role
	Name       string
	Phone      string
	Email      string
	ExternalID string
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks the HMAC signature and, when present, the exp/nbf claims.
func (v *Verifier) Verify(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, apperr.Unauthenticated("credential required", nil)
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return Claims{}, apperr.Unauthenticated("invalid credential", err)
	}
	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, apperr.Unauthenticated("invalid credential", nil)
	}

	roleClaim := firstString(mc, "type", "role")
	role, ok := models.ParseRole(roleClaim)
	if !ok {
		return Claims{}, apperr.Unauthenticated("unsupported user type", fmt.Errorf("role claim %q", roleClaim))
	}
	return Claims{
		ID:         firstString(mc, "id", "sub"),
		Role:       role,
		Name:       firstString(mc, "name"),
		Phone:      firstString(mc, "phone", "phoneNumber", "mobile"),
		Email:      firstString(mc, "email"),
		ExternalID: firstString(mc, "externalId", "userExternalId"),
	}, nil
}

// firstString returns the first non-empty claim among keys. Numeric ids are
// formatted without exponent.
func firstString(mc jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		switch v := mc[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// ExtractCredential finds the bearer credential presented on a handshake:
// the token query parameter, its access_token alias, or the Authorization
// header.
func ExtractCredential(r *http.Request) string {
	q := r.URL.Query()
	if t := strings.TrimSpace(q.Get("token")); t != "" {
		return t
	}
	if t := strings.TrimSpace(q.Get("access_token")); t != "" {
		return t
	}
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
