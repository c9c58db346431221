package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/spire-proxy/spire/internal/config"
	"github.com/spire-proxy/spire/internal/jwks"
)

// authentication implements spec.md §4.6's three auth variants. JWT
// validation uses golang-jwt/jwt/v5, the ecosystem-standard JWT library
// (no repo in the retrieval pack carries one, so this is named rather
// than grounded — see DESIGN.md). The Jwt{issuer, jwks_url, audience}
// variant resolves its verification key from jwksURL via jwks.Registry;
// a route configured with a static signing_key instead (not named by the
// spec, kept for routes that sign their own short-lived tokens rather
// than delegate to an issuer) skips the JWKS round trip entirely.
type authentication struct {
	kind config.AuthKind

	apiKeyHeader string
	apiKeyValue  string

	basicUser string
	basicPass string

	jwtAudience string
	jwtIssuer   string
	jwtKey      []byte
	jwksURL     string
	jwksReg     *jwks.Registry
}

func newAuthentication(spec config.MiddlewareSpec, deps Deps) (*authentication, error) {
	return &authentication{
		kind:         spec.AuthKind,
		apiKeyHeader: spec.APIKeyHeader,
		apiKeyValue:  spec.APIKeyValue,
		basicUser:    spec.BasicUser,
		basicPass:    spec.BasicPass,
		jwtAudience:  spec.JWTAudience,
		jwtIssuer:    spec.JWTIssuer,
		jwtKey:       []byte(spec.JWTSigningKey),
		jwksURL:      spec.JWTJWKSURL,
		jwksReg:      deps.JWKS,
	}, nil
}

func (m *authentication) OnRequest(_ http.ResponseWriter, r *http.Request) Result {
	switch m.kind {
	case config.AuthAPIKey:
		return m.checkAPIKey(r)
	case config.AuthBasic:
		return m.checkBasic(r)
	case config.AuthJWT:
		return m.checkJWT(r)
	default:
		return pass()
	}
}

func (m *authentication) checkAPIKey(r *http.Request) Result {
	if strings.HasPrefix(m.apiKeyHeader, "query:") {
		param := strings.TrimPrefix(m.apiKeyHeader, "query:")
		if subtle.ConstantTimeCompare([]byte(r.URL.Query().Get(param)), []byte(m.apiKeyValue)) == 1 {
			return pass()
		}
		return unauthorized()
	}
	got := r.Header.Get(m.apiKeyHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(m.apiKeyValue)) == 1 {
		return pass()
	}
	return unauthorized()
}

func (m *authentication) checkBasic(r *http.Request) Result {
	user, password, ok := r.BasicAuth()
	if !ok {
		return unauthorized()
	}
	if subtle.ConstantTimeCompare([]byte(user), []byte(m.basicUser)) != 1 ||
		subtle.ConstantTimeCompare([]byte(password), []byte(m.basicPass)) != 1 {
		return unauthorized()
	}
	return pass()
}

func (m *authentication) checkJWT(r *http.Request) Result {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return unauthorized()
	}
	raw := strings.TrimPrefix(auth, prefix)

	opts := []jwt.ParserOption{}
	if m.jwtIssuer != "" {
		opts = append(opts, jwt.WithIssuer(m.jwtIssuer))
	}
	if m.jwtAudience != "" {
		opts = append(opts, jwt.WithAudience(m.jwtAudience))
	}
	parser := jwt.NewParser(opts...)

	token, err := parser.Parse(raw, m.keyfunc(r))
	if err != nil || !token.Valid {
		return unauthorized()
	}
	return pass()
}

// keyfunc resolves the key golang-jwt verifies raw's signature against:
// the route's jwks_url if one is configured, keyed per-token by its kid
// header, or the route's static signing_key otherwise.
func (m *authentication) keyfunc(r *http.Request) jwt.Keyfunc {
	if m.jwksURL == "" || m.jwksReg == nil {
		return func(*jwt.Token) (interface{}, error) {
			return m.jwtKey, nil
		}
	}
	return func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("jwt: missing kid header for jwks verification")
		}
		return m.jwksReg.Key(r.Context(), m.jwksURL, kid)
	}
}

func unauthorized() Result { return terminal(http.StatusUnauthorized, "unauthorized") }

func (*authentication) OnResponse(http.ResponseWriter, *http.Request, *http.Response) {}
