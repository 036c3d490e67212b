package signing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign_Deterministic(t *testing.T) {
	payload := []byte(`{"id":42}`)

	a, err := Sign("whsec_abc", payload)
	require.NoError(t, err)
	b, err := Sign("whsec_abc", payload)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "sha256="))
	assert.Len(t, a, len("sha256=")+64)
}

func TestSign_KnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	sig, err := Sign("Jefe", []byte("what do ya want for nothing?"))
	require.NoError(t, err)

	assert.Equal(t, "sha256=5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", sig)
}

func TestSign_DifferentSecrets(t *testing.T) {
	payload := []byte(`{"id":42}`)

	a, err := Sign("secret-one", payload)
	require.NoError(t, err)
	b, err := Sign("secret-two", payload)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "secret-one")
}

func TestSign_EmptySecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{"empty", ""},
		{"whitespace", "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Sign(tt.secret, []byte(`{}`))
			assert.ErrorIs(t, err, ErrEmptySecret)
		})
	}
}

func TestVerify(t *testing.T) {
	payload := []byte(`{"id":42}`)
	sig, err := Sign("whsec_abc", payload)
	require.NoError(t, err)

	assert.True(t, Verify("whsec_abc", payload, sig))
	assert.False(t, Verify("whsec_abc", []byte(`{"id":43}`), sig))
	assert.False(t, Verify("whsec_other", payload, sig))
	assert.False(t, Verify("", payload, sig))
}
