// Package auth builds the outbound authentication headers a resolved
// AuthConfig prescribes. One Builder serves every downstream call; OAuth2
// token sources are cached per (endpoint, client, scope) so client
// credentials are exchanged once per expiry, not once per payment.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/kranthikarthan/PE-sub004/internal/core"
	"github.com/kranthikarthan/PE-sub004/internal/policy"
	"github.com/kranthikarthan/PE-sub004/internal/resilience"
)

const defaultTokenTTL = 5 * time.Minute

// Builder turns AuthConfig records into request headers.
type Builder struct {
	mu      sync.RWMutex
	sources map[string]oauth2.TokenSource

	// base is the context OAuth2 token sources refresh under. It outlives
	// any single request; a request-scoped context here would break
	// refreshes after the first caller goes away.
	base context.Context

	now   func() time.Time
	newID func() string
}

func NewBuilder() *Builder {
	return &Builder{
		sources: make(map[string]oauth2.TokenSource),
		base:    context.Background(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// WithHTTPClient routes token endpoint calls through client.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.base = context.WithValue(b.base, oauth2.HTTPClient, client)
	return b
}

// Apply sets the authentication headers for one outbound request. body is
// the serialized payload; the JWS variant signs its digest. A nil config is
// an unauthenticated call and applies nothing.
func (b *Builder) Apply(ctx context.Context, req *http.Request, cfg *policy.AuthConfig, body []byte) error {
	if cfg == nil {
		return nil
	}
	switch cfg.Method {
	case policy.AuthJWT:
		token, err := b.jwtToken(cfg)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)

	case policy.AuthJWS:
		token, err := b.jwsToken(cfg, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)

	case policy.AuthOAuth2:
		tok, err := b.oauthToken(cfg)
		if err != nil {
			return err
		}
		tok.SetAuthHeader(req)

	case policy.AuthAPIKey:
		if cfg.Key == "" || cfg.HeaderName == "" {
			return core.Errorf(core.KindConfigurationMissing, "auth.api_key", "API_KEY auth has no key or header name")
		}
		req.Header.Set(cfg.HeaderName, cfg.Key)

	case policy.AuthBasic:
		if cfg.Username == "" {
			return core.Errorf(core.KindConfigurationMissing, "auth.basic", "BASIC auth has no username")
		}
		req.SetBasicAuth(cfg.Username, cfg.Password)

	default:
		return core.Errorf(core.KindConfigurationMissing, "auth.apply", "unknown auth method %q", cfg.Method)
	}

	applyClientHeaders(req, cfg.ClientHeaders)
	return nil
}

// Invalidate drops every cached token source. Called when auth
// configuration changes so stale client credentials stop circulating.
func (b *Builder) Invalidate() {
	b.mu.Lock()
	b.sources = make(map[string]oauth2.TokenSource)
	b.mu.Unlock()
}

func (b *Builder) claims(cfg *policy.AuthConfig) jwt.MapClaims {
	now := b.now().UTC()
	ttl := defaultTokenTTL
	if cfg.ExpirationSeconds > 0 {
		ttl = time.Duration(cfg.ExpirationSeconds) * time.Second
	}
	claims := jwt.MapClaims{
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(ttl)),
		"jti": b.newID(),
	}
	if cfg.Issuer != "" {
		claims["iss"] = cfg.Issuer
	}
	if cfg.Audience != "" {
		claims["aud"] = cfg.Audience
	}
	return claims
}

func (b *Builder) jwtToken(cfg *policy.AuthConfig) (string, error) {
	if cfg.Secret == "" {
		return "", core.Errorf(core.KindConfigurationMissing, "auth.jwt", "JWT auth has no secret")
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, b.claims(cfg)).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", core.E(core.KindInternal, "auth.jwt", err)
	}
	return token, nil
}

// jwsToken signs the request body digest so the receiver can verify the
// payload was not altered in transit, not just that the caller holds the
// credential.
func (b *Builder) jwsToken(cfg *policy.AuthConfig, body []byte) (string, error) {
	method := jwt.GetSigningMethod(cfg.Algorithm)
	if method == nil {
		return "", core.Errorf(core.KindConfigurationMissing, "auth.jws", "unsupported JWS algorithm %q", cfg.Algorithm)
	}
	claims := b.claims(cfg)
	claims["digest"] = bodyDigest(body)

	var key interface{}
	switch {
	case strings.HasPrefix(cfg.Algorithm, "HS"):
		if cfg.Secret == "" {
			return "", core.Errorf(core.KindConfigurationMissing, "auth.jws", "JWS %s has no secret", cfg.Algorithm)
		}
		key = []byte(cfg.Secret)
	case strings.HasPrefix(cfg.Algorithm, "RS"):
		if cfg.Secret == "" {
			return "", core.Errorf(core.KindConfigurationMissing, "auth.jws", "JWS %s has no signing key", cfg.Algorithm)
		}
		rsaKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.Secret))
		if err != nil {
			return "", core.E(core.KindConfigurationMissing, "auth.jws", err)
		}
		key = rsaKey
	default:
		return "", core.Errorf(core.KindConfigurationMissing, "auth.jws", "unsupported JWS algorithm %q", cfg.Algorithm)
	}

	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		return "", core.E(core.KindInternal, "auth.jws", err)
	}
	return token, nil
}

func bodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

func (b *Builder) oauthToken(cfg *policy.AuthConfig) (*oauth2.Token, error) {
	if cfg.TokenEndpoint == "" || cfg.ClientID == "" {
		return nil, core.Errorf(core.KindConfigurationMissing, "auth.oauth2", "OAUTH2 auth has no token endpoint or client id")
	}
	key := cfg.TokenEndpoint + "|" + cfg.ClientID + "|" + cfg.Scope

	b.mu.RLock()
	src, ok := b.sources[key]
	b.mu.RUnlock()
	if !ok {
		b.mu.Lock()
		if src, ok = b.sources[key]; !ok {
			cc := &clientcredentials.Config{
				TokenURL:     cfg.TokenEndpoint,
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
			}
			if cfg.Scope != "" {
				cc.Scopes = strings.Fields(cfg.Scope)
			}
			src = cc.TokenSource(b.base)
			b.sources[key] = src
		}
		b.mu.Unlock()
	}

	tok, err := src.Token()
	if err != nil {
		return nil, classifyTokenError(err)
	}
	return tok, nil
}

// classifyTokenError maps identity provider failures onto the dispatch
// taxonomy so the executor retries an unreachable IdP but not rejected
// credentials.
func classifyTokenError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		kind := resilience.ClassifyStatus(rerr.Response.StatusCode)
		if kind == "" {
			kind = core.KindDispatchPermanent
		}
		return core.E(kind, "auth.oauth2_token", err)
	}
	return core.E(core.KindDispatchTransient, "auth.oauth2_token", err)
}

func applyClientHeaders(req *http.Request, ch *policy.ClientHeaders) {
	if ch == nil || !ch.Enabled {
		return
	}
	idHeader := ch.IDHeaderName
	if idHeader == "" {
		idHeader = "X-Client-Id"
	}
	secretHeader := ch.SecretHeaderName
	if secretHeader == "" {
		secretHeader = "X-Client-Secret"
	}
	req.Header.Set(idHeader, ch.ClientID)
	req.Header.Set(secretHeader, ch.ClientSecret)
}
