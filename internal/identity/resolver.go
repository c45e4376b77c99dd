// Package identity turns connection-time credentials into an Identity. It
// accepts either a signed bearer token or an anonymous client id header;
// account storage is someone else's problem, the token is the identity.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/huyvnnb/tanin/internal/core/domain"
)

var ErrUnauthenticated = errors.New("missing or invalid credentials")

const anonymousName = "Stranger"

type claims struct {
	jwt.RegisteredClaims
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

type Resolver struct {
	secret []byte
}

func NewResolver(secret string) *Resolver {
	return &Resolver{secret: []byte(secret)}
}

// Resolve inspects the request's credentials. A bearer token yields an
// authenticated identity, an X-Client-ID header an anonymous one; anything
// else is rejected before any core state is touched.
func (r *Resolver) Resolve(req *http.Request) (domain.Identity, error) {
	if auth := req.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return r.fromToken(strings.TrimPrefix(auth, "Bearer "))
	}

	if clientID := req.Header.Get("X-Client-ID"); clientID != "" {
		id, err := domain.ParseUserID(clientID)
		if err != nil {
			return domain.Identity{}, fmt.Errorf("%w: invalid client id", ErrUnauthenticated)
		}
		return domain.Identity{
			ID:          id,
			DisplayName: anonymousName,
			IsAnonymous: true,
		}, nil
	}

	return domain.Identity{}, ErrUnauthenticated
}

func (r *Resolver) fromToken(token string) (domain.Identity, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !parsed.Valid {
		return domain.Identity{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}

	id, err := domain.ParseUserID(c.Subject)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: invalid subject", ErrUnauthenticated)
	}

	name := c.Name
	if name == "" {
		name = anonymousName
	}
	return domain.Identity{
		ID:          id,
		DisplayName: name,
		IsAnonymous: false,
		Avatar:      c.Avatar,
	}, nil
}
