// Package grant implements the Access Plane's Grant Issuer and verifier: a
// JWT-shaped, HMAC-SHA256-signed envelope tying (tenant, room, user, role)
// to a bounded time window.
package grant

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"regexp"
	"strconv"
	"time"

	"github.com/pairhub/signaling-core/internal/v1/apierr"
	"github.com/pairhub/signaling-core/internal/v1/metrics"
	"github.com/pairhub/signaling-core/internal/v1/roomstore"
	"github.com/pairhub/signaling-core/internal/v1/types"
	"github.com/golang-jwt/jwt/v5"
)

// ttlPattern is the wire grammar for a caller-supplied grant TTL: a small
// integer immediately followed by exactly one unit letter. Unlike
// time.ParseDuration, composite durations ("1h30m") and sub-second units are
// not accepted, and "d" (days) is.
var ttlPattern = regexp.MustCompile(`^([1-9][0-9]{0,3})(s|m|h|d)$`)

// ParseTTL parses a grant TTL string in the "s|m|h|d" grammar. It rejects
// anything time.ParseDuration would otherwise accept but the grant wire
// format does not, such as "1h30m" or "500ms".
func ParseTTL(s string) (time.Duration, error) {
	m := ttlPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, apierr.New(apierr.KindValidation, apierr.CodeInvalidMessage, "expiresIn must be a small integer followed by one of s, m, h, d")
	}

	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, apierr.New(apierr.KindValidation, apierr.CodeInvalidMessage, "expiresIn must be a small integer followed by one of s, m, h, d")
	}

	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, apierr.New(apierr.KindValidation, apierr.CodeInvalidMessage, "expiresIn must be a small integer followed by one of s, m, h, d")
	}
}

// ErrGrantExpired and ErrGrantInvalid are the two sentinel verification
// outcomes verifyGrant may report, so callers map outcomes to wire codes
// without string matching.
var (
	ErrGrantExpired = errors.New("grant expired")
	ErrGrantInvalid = errors.New("grant invalid")
)

// Claims is the payload of a grant token. Field names and json tags are
// fixed by the wire format: jti, appId, roomId, userId, role, iat, exp.
type Claims struct {
	ID        string     `json:"jti"`
	AppID     string     `json:"appId"`
	RoomID    string     `json:"roomId"`
	UserID    string     `json:"userId"`
	Role      types.Role `json:"role"`
	IssuedAt  int64      `json:"iat"`
	ExpiresAt int64      `json:"exp"`
}

// The following methods satisfy jwt.Claims (golang-jwt/jwt/v5). Only
// expiry/issued-at are meaningful here; the grant envelope carries no
// issuer, subject, or audience claims.
func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)), nil
}

func (c Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

func (c Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c Claims) GetIssuer() (string, error)              { return "", nil }
func (c Claims) GetSubject() (string, error)             { return "", nil }
func (c Claims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

// Issuer mints and verifies grants against a shared signing secret.
type Issuer struct {
	secret []byte
	rooms  roomstore.Store
	now    func() time.Time
}

// NewIssuer constructs an Issuer. rooms is consulted to verify the room
// referenced by issueGrant exists and is owned by the calling tenant.
func NewIssuer(secret []byte, rooms roomstore.Store) *Issuer {
	return &Issuer{secret: secret, rooms: rooms, now: time.Now}
}

// IssueGrant mints a signed, time-bounded grant for (tenantID, roomID,
// userID, role), after verifying the room exists and is owned by tenantID.
func (i *Issuer) IssueGrant(ctx context.Context, tenantID, roomID, userID string, role types.Role, ttl time.Duration) (token string, expiresAt time.Time, err error) {
	if userID == "" || len(userID) > 255 {
		return "", time.Time{}, apierr.New(apierr.KindValidation, apierr.CodeInvalidMessage, "userId must be a non-empty string of at most 255 characters")
	}
	if !types.ValidRole(role) {
		return "", time.Time{}, apierr.New(apierr.KindValidation, apierr.CodeInvalidMessage, "role must be one of host, participant, viewer")
	}

	room, err := i.rooms.Get(ctx, tenantID, roomID)
	if err != nil {
		return "", time.Time{}, err
	}
	if room.TenantID != tenantID {
		return "", time.Time{}, apierr.New(apierr.KindForbidden, apierr.CodeTenantMismatch, "room is not owned by the calling tenant")
	}

	jti, err := randomID()
	if err != nil {
		return "", time.Time{}, apierr.Wrap(apierr.KindInternal, apierr.CodeInternal, "failed to generate grant id", err)
	}

	issuedAt := i.now().UTC()
	exp := issuedAt.Add(ttl)

	claims := Claims{
		ID:        jti,
		AppID:     tenantID,
		RoomID:    roomID,
		UserID:    userID,
		Role:      role,
		IssuedAt:  issuedAt.Unix(),
		ExpiresAt: exp.Unix(),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, apierr.Wrap(apierr.KindInternal, apierr.CodeInternal, "failed to sign grant", err)
	}

	metrics.GrantsIssued.WithLabelValues(tenantID, string(role)).Inc()
	return signed, exp, nil
}

// VerifyGrant validates a compact grant token and returns its claims. The
// verifier fixes the signing algorithm itself and never trusts the `alg`
// claim from the token header.
func (i *Issuer) VerifyGrant(token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			metrics.GrantVerifications.WithLabelValues("expired").Inc()
			return Claims{}, ErrGrantExpired
		}
		metrics.GrantVerifications.WithLabelValues("invalid").Inc()
		return Claims{}, ErrGrantInvalid
	}
	if !parsed.Valid {
		metrics.GrantVerifications.WithLabelValues("invalid").Inc()
		return Claims{}, ErrGrantInvalid
	}

	if claims.ID == "" || claims.AppID == "" || claims.RoomID == "" || claims.UserID == "" || !types.ValidRole(claims.Role) {
		metrics.GrantVerifications.WithLabelValues("invalid").Inc()
		return Claims{}, ErrGrantInvalid
	}

	if time.Unix(claims.ExpiresAt, 0).Before(i.now()) {
		metrics.GrantVerifications.WithLabelValues("expired").Inc()
		return Claims{}, ErrGrantExpired
	}

	metrics.GrantVerifications.WithLabelValues("valid").Inc()
	return claims, nil
}

// randomID generates a 128-bit random identifier, used both as grant-id and
// as a dedup key for future revocation.
func randomID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
