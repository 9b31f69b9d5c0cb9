package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuanvm/timeright/internal/errors"
	"github.com/tuanvm/timeright/internal/identity"
)

const secret = "test-secret"

func TestService_Verify(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := identity.NewService(identity.Config{
		Clock:  clock,
		Secret: secret,
	})

	token := mintToken(t, secret, "user-1", "alice", clock.Now().Add(time.Hour))

	u, err := s.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", u.UserID)
	assert.Equal(t, "alice", u.Username)
}

func TestService_VerifyRejections(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := identity.NewService(identity.Config{
		Clock:  clock,
		Secret: secret,
	})

	tests := map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": mintToken(t, "other-secret", "user-1", "alice", clock.Now().Add(time.Hour)),
		"expired":      mintToken(t, secret, "user-1", "alice", clock.Now().Add(-time.Minute)),
		"missing sub":  mintToken(t, secret, "", "alice", clock.Now().Add(time.Hour)),
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := s.Verify(context.Background(), token)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.CodeUnauthenticated), "got %v", err)
		})
	}
}

func TestService_VerifyHonorsClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := identity.NewService(identity.Config{
		Clock:  clock,
		Secret: secret,
	})

	token := mintToken(t, secret, "user-1", "alice", clock.Now().Add(time.Minute))

	_, err := s.Verify(context.Background(), token)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	_, err = s.Verify(context.Background(), token)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeUnauthenticated), "got %v", err)
}

func mintToken(t *testing.T, secret, sub, name string, exp time.Time) string {
	t.Helper()

	claims := jwt.MapClaims{
		"name": name,
		"exp":  exp.Unix(),
	}
	if sub != "" {
		claims["sub"] = sub
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)

	return signed
}
