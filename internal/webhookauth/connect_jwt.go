package webhookauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ContextQSH is the binding value Connect uses for requests that are not tied
// to a specific URL.
const ContextQSH = "context-qsh"

// ConnectClaims are the claims carried by an Atlassian Connect JWT.
type ConnectClaims struct {
	QSH     string `json:"qsh"`
	Context any    `json:"context,omitempty"`
	jwt.RegisteredClaims
}

// QueryStringHash computes the request-binding hash for METHOD&path&query.
// The jwt parameter is excluded from the query.
func QueryStringHash(method, path string, query url.Values) string {
	sum := sha256.Sum256([]byte(CanonicalRequest(method, path, query)))
	return hex.EncodeToString(sum[:])
}

// CanonicalRequest builds the string hashed into the qsh claim.
func CanonicalRequest(method, path string, query url.Values) string {
	return strings.ToUpper(method) + "&" + canonicalPath(path) + "&" + canonicalQuery(query)
}

func canonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return strings.ReplaceAll(path, "&", "%26")
}

func canonicalQuery(query url.Values) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		if k == "jwt" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		values := make([]string, 0, len(query[k]))
		for _, v := range query[k] {
			values = append(values, percentEncode(v))
		}
		sort.Strings(values)
		parts = append(parts, percentEncode(k)+"="+strings.Join(values, ","))
	}
	return strings.Join(parts, "&")
}

func percentEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// ConnectToken extracts the JWT from "Authorization: JWT <token>" or the jwt query parameter.
func ConnectToken(authorization string, query url.Values) string {
	const scheme = "JWT "
	if len(authorization) > len(scheme) && strings.EqualFold(authorization[:len(scheme)], scheme) {
		return strings.TrimSpace(authorization[len(scheme):])
	}
	return query.Get("jwt")
}

// ConnectIssuer reads the iss claim without verifying the signature, so the
// caller can look up the matching shared secret.
func ConnectIssuer(token string) (string, error) {
	claims := &ConnectClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse connect token: %w", err)
	}
	if claims.Issuer == "" {
		return "", errors.New("connect token has no issuer")
	}
	return claims.Issuer, nil
}

// VerifyConnectJWT validates signature, expiry and the qsh binding of a Connect token.
func VerifyConnectJWT(token, sharedSecret, method, path string, query url.Values, now time.Time) (*ConnectClaims, error) {
	if sharedSecret == "" {
		return nil, errors.New("no shared secret for issuer")
	}

	claims := &ConnectClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(sharedSecret), nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid connect token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid connect token")
	}

	if claims.QSH == ContextQSH {
		return claims, nil
	}
	expected := QueryStringHash(method, path, query)
	if subtle.ConstantTimeCompare([]byte(claims.QSH), []byte(expected)) != 1 {
		return nil, errors.New("connect token qsh does not match request")
	}
	return claims, nil
}

// SignConnectJWT issues a short-lived token for an outbound Connect call.
func SignConnectJWT(issuer, sharedSecret, method, path string, query url.Values, now time.Time) (string, error) {
	claims := ConnectClaims{
		QSH: QueryStringHash(method, path, query),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(3 * time.Minute)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(sharedSecret))
}
