// Package vault defines the credential resolution contract and the injector
// that attaches authentication material to outbound requests. The vault
// itself (storage, decryption, key management) is an external collaborator.
package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gatehouse-io/gatehouse/pkg/catalog"
	"github.com/gatehouse-io/gatehouse/pkg/protocol"
)

// ErrAuthFailure wraps any credential resolution or injection failure.
// Auth failures are fatal for the call and never retried.
var ErrAuthFailure = errors.New("auth failure")

// Secret is resolved credential material. The Stringer implementation
// redacts so a Secret can never leak through logs by accident.
type Secret struct {
	Value string
	// Extra carries scheme-specific material (basic auth username,
	// mutual-tls client cert PEM, ...).
	Extra map[string]string
}

// String implements fmt.Stringer
func (Secret) String() string { return "[redacted]" }

// MarshalJSON keeps secrets out of serialized structures
func (Secret) MarshalJSON() ([]byte, error) { return []byte(`"[redacted]"`), nil }

// Vault resolves credential material by id
type Vault interface {
	ResolveCredential(ctx context.Context, credentialID string) (Secret, error)
}

// Injector attaches authentication material to a built request, dispatching
// on the system's auth type.
type Injector struct {
	vault  Vault
	logger zerolog.Logger
}

// NewInjector creates a credential injector backed by a vault
func NewInjector(v Vault, logger zerolog.Logger) *Injector {
	return &Injector{vault: v, logger: logger}
}

// Inject resolves and attaches credentials for the given auth config.
// Requests with AuthNone pass through untouched.
func (in *Injector) Inject(ctx context.Context, req *protocol.Request, auth catalog.AuthConfig) error {
	if auth.Type == catalog.AuthNone || auth.Type == "" {
		return nil
	}

	if in.vault == nil {
		return fmt.Errorf("%w: no vault configured for auth type %s", ErrAuthFailure, auth.Type)
	}

	secret, err := in.vault.ResolveCredential(ctx, auth.CredentialID)
	if err != nil {
		in.logger.Error().
			Err(err).
			Str("credential_id", auth.CredentialID).
			Str("auth_type", string(auth.Type)).
			Msg("Credential resolution failed")
		return fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}

	switch auth.Type {
	case catalog.AuthAPIKey:
		header := auth.HeaderName
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, secret.Value)

	case catalog.AuthBearer, catalog.AuthOAuth2:
		// For oauth2 the vault owns the token exchange; what comes back is
		// a ready-to-use access token.
		req.Header.Set("Authorization", "Bearer "+secret.Value)

	case catalog.AuthBasic:
		username := secret.Extra["username"]
		encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + secret.Value))
		req.Header.Set("Authorization", "Basic "+encoded)

	case catalog.AuthMutualTLS:
		pem, ok := secret.Extra["client_cert_pem"]
		if !ok {
			return fmt.Errorf("%w: mutual_tls credential %s has no client certificate", ErrAuthFailure, auth.CredentialID)
		}
		req.ClientCertPEM = []byte(pem)

	default:
		return fmt.Errorf("%w: unknown auth type %q", ErrAuthFailure, auth.Type)
	}

	return nil
}

// StaticVault is an in-memory Vault for wiring and tests
type StaticVault struct {
	secrets map[string]Secret
}

// NewStaticVault builds a vault from a fixed secret map
func NewStaticVault(secrets map[string]Secret) *StaticVault {
	return &StaticVault{secrets: secrets}
}

// ResolveCredential implements Vault
func (v *StaticVault) ResolveCredential(ctx context.Context, credentialID string) (Secret, error) {
	secret, ok := v.secrets[credentialID]
	if !ok {
		return Secret{}, fmt.Errorf("credential not found: %s", credentialID)
	}
	return secret, nil
}
