package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

type memUserStore struct {
	byEmail map[string]domain.User
}

func (s *memUserStore) Create(_ context.Context, u domain.User) error {
	s.byEmail[u.Email] = u
	return nil
}
func (s *memUserStore) GetByID(_ context.Context, id string) (domain.User, error) {
	for _, u := range s.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}
func (s *memUserStore) GetByEmail(_ context.Context, email string) (domain.User, error) {
	u, ok := s.byEmail[email]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func testService() *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(&memUserStore{byEmail: make(map[string]domain.User)}, []byte("test-secret"), logger)
}

func TestRegisterAndLogin(t *testing.T) {
	s := testService()

	user, err := s.Register(context.Background(), "t@example.com", "Trader", "hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", user.PasswordHash)
	assert.Equal(t, domain.RoleTrader, user.Role)

	pair, err := s.Login(context.Background(), "t@example.com", "hunter22")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "bearer", pair.TokenType)

	userID, err := s.Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	s := testService()
	_, err := s.Register(context.Background(), "t@example.com", "A", "pw1234")
	require.NoError(t, err)

	_, err = s.Register(context.Background(), "t@example.com", "B", "pw5678")
	v, ok := domain.AsRiskViolation(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeConflict, v.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	s := testService()
	_, err := s.Register(context.Background(), "t@example.com", "A", "correct")
	require.NoError(t, err)

	for _, attempt := range []struct{ email, pw string }{
		{"t@example.com", "wrong"},
		{"nobody@example.com", "correct"},
	} {
		_, err := s.Login(context.Background(), attempt.email, attempt.pw)
		v, ok := domain.AsRiskViolation(err)
		require.True(t, ok)
		assert.Equal(t, domain.CodeUnauthorized, v.Code)
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	s := testService()
	user, err := s.Register(context.Background(), "t@example.com", "A", "pw1234")
	require.NoError(t, err)
	pair, err := s.Login(context.Background(), "t@example.com", "pw1234")
	require.NoError(t, err)

	fresh, err := s.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	userID, err := s.Verify(fresh.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)

	// An access token is not accepted as a refresh token.
	_, err = s.Refresh(context.Background(), pair.AccessToken)
	v, ok := domain.AsRiskViolation(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeUnauthorized, v.Code)
}

func TestVerifyExpiredToken(t *testing.T) {
	s := testService()
	_, err := s.Register(context.Background(), "t@example.com", "A", "pw1234")
	require.NoError(t, err)
	pair, err := s.Login(context.Background(), "t@example.com", "pw1234")
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(accessTokenTTL + time.Minute) }
	_, err = s.Verify(pair.AccessToken)
	v, ok := domain.AsRiskViolation(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeUnauthorized, v.Code)
}
