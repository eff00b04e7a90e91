// Package registry obtains short-lived pull credentials for a private ECR registry.
package registry

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"ecrdeploy/internal/faults"
	"ecrdeploy/internal/logging"
	"ecrdeploy/internal/provisioning"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"go.uber.org/zap"
)

// ECRAPI is the subset of the ECR client used by the Authenticator.
type ECRAPI interface {
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

// Credential is a registry login valid for one login/pull cycle. It must
// be used immediately and never persisted.
type Credential struct {
	Username  string
	Password  string
	Endpoint  string
	ExpiresAt time.Time
}

// Host returns the registry host without scheme, as docker login expects it.
func (c Credential) Host() string {
	if u, err := url.Parse(c.Endpoint); err == nil && u.Host != "" {
		return u.Host
	}
	return c.Endpoint
}

// String hides the password.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{Username: %s, Endpoint: %s, ExpiresAt: %s}",
		c.Username, c.Endpoint, c.ExpiresAt.Format(time.RFC3339))
}

// Authenticator fetches registry credentials
type Authenticator struct {
	client ECRAPI
}

// NewAuthenticator creates a new Authenticator
func NewAuthenticator(client ECRAPI) *Authenticator {
	return &Authenticator{client: client}
}

// Credential requests a fresh authorization token. Every call goes to the
// registry; nothing is cached.
func (a *Authenticator) Credential(ctx context.Context) (*Credential, error) {
	out, err := a.client.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		logging.Logger().Error("Registry denied authorization token",
			zap.String("aws_error_code", provisioning.ErrorCode(err)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: failed to get authorization token: %w", faults.ErrAuth, err)
	}
	if len(out.AuthorizationData) == 0 {
		return nil, fmt.Errorf("%w: registry returned no authorization data", faults.ErrAuth)
	}

	data := out.AuthorizationData[0]
	username, password, err := decodeToken(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", faults.ErrAuth, err)
	}

	cred := &Credential{
		Username: username,
		Password: password,
		Endpoint: aws.ToString(data.ProxyEndpoint),
	}
	if data.ExpiresAt != nil {
		cred.ExpiresAt = *data.ExpiresAt
	}
	if cred.Endpoint == "" {
		return nil, fmt.Errorf("%w: registry returned no endpoint", faults.ErrAuth)
	}

	logging.Logger().Info("Obtained registry credential",
		zap.String("endpoint", cred.Endpoint),
		zap.Time("expires_at", cred.ExpiresAt))

	return cred, nil
}

// decodeToken splits a base64 "user:password" authorization token.
func decodeToken(token string) (string, string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", fmt.Errorf("failed to decode authorization token: %w", err)
	}
	username, password, ok := strings.Cut(string(raw), ":")
	if !ok || username == "" || password == "" {
		return "", "", fmt.Errorf("authorization token is not in user:password form")
	}
	return username, password, nil
}
