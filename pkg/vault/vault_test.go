package vault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-io/gatehouse/pkg/catalog"
	"github.com/gatehouse-io/gatehouse/pkg/protocol"
)

func newRequest() *protocol.Request {
	return &protocol.Request{Header: http.Header{}}
}

func newInjector(secrets map[string]Secret) *Injector {
	return NewInjector(NewStaticVault(secrets), zerolog.Nop())
}

func TestInject_NoneBypassesVault(t *testing.T) {
	// AuthNone must not touch the vault at all, even a broken one.
	in := NewInjector(nil, zerolog.Nop())
	req := newRequest()

	err := in.Inject(context.Background(), req, catalog.AuthConfig{Type: catalog.AuthNone})
	require.NoError(t, err)
	assert.Empty(t, req.Header)
}

func TestInject_APIKeyHeader(t *testing.T) {
	in := newInjector(map[string]Secret{"cred-1": {Value: "sk-12345"}})

	req := newRequest()
	err := in.Inject(context.Background(), req, catalog.AuthConfig{
		Type: catalog.AuthAPIKey, CredentialID: "cred-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "sk-12345", req.Header.Get("X-API-Key"))

	req = newRequest()
	err = in.Inject(context.Background(), req, catalog.AuthConfig{
		Type: catalog.AuthAPIKey, CredentialID: "cred-1", HeaderName: "X-Custom-Key",
	})
	require.NoError(t, err)
	assert.Equal(t, "sk-12345", req.Header.Get("X-Custom-Key"))
}

func TestInject_BearerAndOAuth2(t *testing.T) {
	in := newInjector(map[string]Secret{"cred-1": {Value: "tok-abc"}})

	for _, authType := range []catalog.AuthType{catalog.AuthBearer, catalog.AuthOAuth2} {
		req := newRequest()
		err := in.Inject(context.Background(), req, catalog.AuthConfig{
			Type: authType, CredentialID: "cred-1",
		})
		require.NoError(t, err, "auth type %s", authType)
		assert.Equal(t, "Bearer tok-abc", req.Header.Get("Authorization"))
	}
}

func TestInject_Basic(t *testing.T) {
	in := newInjector(map[string]Secret{
		"cred-1": {Value: "hunter2", Extra: map[string]string{"username": "svc-orders"}},
	})

	req := newRequest()
	err := in.Inject(context.Background(), req, catalog.AuthConfig{
		Type: catalog.AuthBasic, CredentialID: "cred-1",
	})
	require.NoError(t, err)

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("svc-orders:hunter2"))
	assert.Equal(t, want, req.Header.Get("Authorization"))
}

func TestInject_MutualTLS(t *testing.T) {
	pem := "-----BEGIN CERTIFICATE-----\nMIIB...\n-----END CERTIFICATE-----"
	in := newInjector(map[string]Secret{
		"cred-1": {Extra: map[string]string{"client_cert_pem": pem}},
	})

	req := newRequest()
	err := in.Inject(context.Background(), req, catalog.AuthConfig{
		Type: catalog.AuthMutualTLS, CredentialID: "cred-1",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte(pem), req.ClientCertPEM)
}

func TestInject_MutualTLSWithoutCert(t *testing.T) {
	in := newInjector(map[string]Secret{"cred-1": {Value: "not-a-cert"}})

	err := in.Inject(context.Background(), newRequest(), catalog.AuthConfig{
		Type: catalog.AuthMutualTLS, CredentialID: "cred-1",
	})
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestInject_UnknownCredential(t *testing.T) {
	in := newInjector(nil)

	err := in.Inject(context.Background(), newRequest(), catalog.AuthConfig{
		Type: catalog.AuthBearer, CredentialID: "cred-missing",
	})
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestInject_NoVaultConfigured(t *testing.T) {
	in := NewInjector(nil, zerolog.Nop())

	err := in.Inject(context.Background(), newRequest(), catalog.AuthConfig{
		Type: catalog.AuthBearer, CredentialID: "cred-1",
	})
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestSecret_NeverPrintsValue(t *testing.T) {
	s := Secret{Value: "sk-super-secret", Extra: map[string]string{"username": "bob"}}

	assert.Equal(t, "[redacted]", s.String())
	assert.Equal(t, "[redacted]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%+v", s), "sk-super-secret")

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[redacted]"`, string(data))
}
