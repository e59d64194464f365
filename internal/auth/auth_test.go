package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345"

func TestGenerateAccessToken(t *testing.T) {
	t.Run("successfully generate access token", func(t *testing.T) {
		token, err := GenerateAccessToken(1, "mentor@example.com", RoleMentor, testSecret)

		assert.NoError(t, err)
		assert.NotEmpty(t, token)
	})

	t.Run("fail with empty secret", func(t *testing.T) {
		token, err := GenerateAccessToken(1, "mentor@example.com", RoleMentor, "")

		assert.ErrorIs(t, err, ErrEmptyJWTSecret)
		assert.Empty(t, token)
	})
}

func TestValidateToken(t *testing.T) {
	t.Run("round trip preserves claims", func(t *testing.T) {
		token, err := GenerateAccessToken(7, "pro@example.com", RoleProfessional, testSecret)
		require.NoError(t, err)

		claims, err := ValidateToken(token, testSecret)
		require.NoError(t, err)
		assert.Equal(t, 7, claims.UserID)
		assert.Equal(t, "pro@example.com", claims.Email)
		assert.Equal(t, RoleProfessional, claims.Role)
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		token, err := GenerateAccessToken(7, "pro@example.com", RoleProfessional, testSecret)
		require.NoError(t, err)

		_, err = ValidateToken(token, "other-secret")
		assert.Error(t, err)
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		_, err := ValidateToken("not.a.token", testSecret)
		assert.Error(t, err)
	})

	t.Run("empty secret rejected", func(t *testing.T) {
		_, err := ValidateToken("whatever", "")
		assert.ErrorIs(t, err, ErrEmptyJWTSecret)
	})
}
