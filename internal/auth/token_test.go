package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthenticator_IssueToken(t *testing.T) {
	auth := New("test-secret")

	token, expiresAt, err := auth.IssueToken(42, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	id, err := auth.DoctorID(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	claims, err := auth.Parse("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "DOCTOR", claims.Role)
	assert.Equal(t, "42", claims.Subject)

	t.Run("requires_secret", func(t *testing.T) {
		_, _, err := New("").IssueToken(42, time.Hour)
		assert.ErrorIs(t, err, ErrNoSecret)
	})

	t.Run("rejects_bad_input", func(t *testing.T) {
		_, _, err := auth.IssueToken(0, time.Hour)
		assert.ErrorIs(t, err, ErrInvalidUser)

		_, _, err = auth.IssueToken(42, 0)
		assert.ErrorIs(t, err, ErrInvalidTTL)
	})
}

func TestAuthenticator_DoctorID(t *testing.T) {
	tests := []struct {
		name    string
		claims  jwt.MapClaims
		want    int64
		wantErr error
	}{
		{"numeric_claim", jwt.MapClaims{"doctorId": 42}, 42, nil},
		{"string_claim", jwt.MapClaims{"doctorId": "42"}, 42, nil},
		{"subject_fallback", jwt.MapClaims{"sub": "7"}, 7, nil},
		{"claim_wins_over_subject", jwt.MapClaims{"doctorId": 3, "sub": "7"}, 3, nil},
		{"non_numeric_subject", jwt.MapClaims{"sub": "dr.house"}, 0, ErrNoDoctorID},
		{"negative_claim", jwt.MapClaims{"doctorId": -1}, 0, ErrNoDoctorID},
		{"no_claims", jwt.MapClaims{}, 0, ErrNoDoctorID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := sign(t, "any-secret", tt.claims)

			id, err := New("").DoctorID(token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestAuthenticator_Verification(t *testing.T) {
	t.Run("wrong_secret_rejected", func(t *testing.T) {
		token := sign(t, "other-secret", jwt.MapClaims{"doctorId": 42})

		_, err := New("test-secret").DoctorID(token)
		assert.Error(t, err)
	})

	t.Run("unverified_accepts_any_signature", func(t *testing.T) {
		token := sign(t, "other-secret", jwt.MapClaims{"doctorId": 42})

		id, err := New("").DoctorID(token)
		require.NoError(t, err)
		assert.Equal(t, int64(42), id)
	})

	t.Run("expired_rejected", func(t *testing.T) {
		token := sign(t, "test-secret", jwt.MapClaims{
			"doctorId": 42,
			"exp":      time.Now().Add(-time.Hour).Unix(),
		})

		_, err := New("test-secret").DoctorID(token)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("empty_token", func(t *testing.T) {
		_, err := New("").DoctorID("Bearer ")
		assert.ErrorIs(t, err, ErrEmptyToken)
	})

	t.Run("garbage_token", func(t *testing.T) {
		_, err := New("").DoctorID("not-a-jwt")
		assert.Error(t, err)
	})
}
