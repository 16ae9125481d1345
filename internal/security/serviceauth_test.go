package security

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestIssueAndVerifyServiceTokenRoundTrip(t *testing.T) {
	priv := generateTestRSAKey(t)

	token, err := IssueServiceToken(priv, "counter-agent", time.Hour)
	require.NoError(t, err)

	claims, err := VerifyServiceToken(token, &priv.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, "counter-agent", claims.ServiceID)
	assert.Equal(t, "agent-runtime", claims.Issuer)
}

func TestVerifyServiceTokenRejectsExpiredToken(t *testing.T) {
	priv := generateTestRSAKey(t)

	token, err := IssueServiceToken(priv, "counter-agent", -time.Minute)
	require.NoError(t, err)

	_, err = VerifyServiceToken(token, &priv.PublicKey)
	assert.Error(t, err)
}

func TestVerifyServiceTokenRejectsWrongKey(t *testing.T) {
	priv := generateTestRSAKey(t)
	other := generateTestRSAKey(t)

	token, err := IssueServiceToken(priv, "counter-agent", time.Hour)
	require.NoError(t, err)

	_, err = VerifyServiceToken(token, &other.PublicKey)
	assert.Error(t, err)
}

func TestIssueServiceTokenDefaultsTTL(t *testing.T) {
	priv := generateTestRSAKey(t)

	token, err := IssueServiceToken(priv, "counter-agent", 0)
	require.NoError(t, err)

	claims, err := VerifyServiceToken(token, &priv.PublicKey)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}
