package http

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

// Identity is what the identity provider told us about the caller. A request
// without a valid token has SignedIn false.
type Identity struct {
	SignedIn bool
	ID       string
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}

func ParseToken(publicKey *rsa.PublicKey, issuer, tokenString string) (*jwt.RegisteredClaims, error) {
	if publicKey == nil {
		return nil, errors.New("missing public key")
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
	}
	if issuer != "" {
		options = append(options, jwt.WithIssuer(issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		return publicKey, nil
	}, options...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func ParseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid public key")
	}
	switch block.Type {
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		publicKey, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not RSA")
		}
		return publicKey, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, errors.Newf("unsupported key block %q", block.Type)
	}
}

type Authenticator struct {
	publicKey *rsa.PublicKey
	issuer    string
	logger    observability.Logger
}

// NewAuthenticator verifies bearer tokens with publicKey. A nil key treats
// every caller as signed out.
func NewAuthenticator(publicKey *rsa.PublicKey, issuer string, logger observability.Logger) *Authenticator {
	return &Authenticator{publicKey: publicKey, issuer: issuer, logger: logger}
}

// Middleware attaches the caller's Identity. It never rejects; guards decide.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id Identity
		header := r.Header.Get("Authorization")
		if token, ok := strings.CutPrefix(header, "Bearer "); ok && a.publicKey != nil {
			claims, err := ParseToken(a.publicKey, a.issuer, strings.TrimSpace(token))
			if err != nil {
				a.logger.WithField("request_id", requestID(r)).Debug("rejected bearer token: ", err)
			} else {
				id = Identity{SignedIn: true, ID: claims.Subject}
			}
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}
