// Package authclient resolves bearer tokens against the external auth
// service. Token issuance and session management stay outside this
// platform; all it needs is the identity behind a presented token.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashir-ayaz/container-service-cloud-platform/internal/domain"
	"github.com/hashir-ayaz/container-service-cloud-platform/pkg/token"
)

// ErrUnauthenticated indicates the auth service rejected the token.
var ErrUnauthenticated = errors.New("authclient: token rejected")

// Client validates tokens via the auth service's validate-token endpoint.
// When a shared JWT secret is configured the signature is verified locally
// instead, skipping the round-trip.
type Client struct {
	http      *http.Client
	url       string
	jwtSecret string
	logger    *slog.Logger
}

// New constructs a Client.
func New(url, jwtSecret string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		url:       strings.TrimSpace(url),
		jwtSecret: strings.TrimSpace(jwtSecret),
		logger:    logger,
	}
}

// ValidateToken resolves the identity behind a bearer token.
func (c *Client) ValidateToken(ctx context.Context, bearer string) (*domain.Identity, error) {
	trimmed := strings.TrimSpace(bearer)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthenticated)
	}
	if c.jwtSecret != "" {
		return c.validateLocal(trimmed)
	}
	return c.validateRemote(ctx, trimmed)
}

func (c *Client) validateLocal(bearer string) (*domain.Identity, error) {
	claims, err := token.Parse(bearer, c.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, fmt.Errorf("%w: token carries no user id", ErrUnauthenticated)
	}
	return &domain.Identity{ID: claims.UserID, Email: claims.Email}, nil
}

func (c *Client) validateRemote(ctx context.Context, bearer string) (*domain.Identity, error) {
	payload, err := json.Marshal(map[string]string{"token": bearer})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("auth service request failed", "error", err)
		return nil, fmt.Errorf("auth service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrUnauthenticated
	}
	if resp.StatusCode >= 400 {
		c.logger.Error("auth service returned error", "status", resp.Status)
		return nil, fmt.Errorf("auth service error: %s", resp.Status)
	}

	var body struct {
		User struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode auth response: %w", err)
	}
	if strings.TrimSpace(body.User.ID) == "" {
		return nil, fmt.Errorf("%w: auth response carries no user", ErrUnauthenticated)
	}
	return &domain.Identity{ID: body.User.ID, Email: body.User.Email}, nil
}
