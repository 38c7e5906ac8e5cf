// Package auth issues and verifies the bearer tokens the HTTP surface runs
// on. Passwords are bcrypt hashes; tokens are HMAC-signed JWTs.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

const (
	accessTokenTTL  = 30 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
)

// TokenPair is what login and refresh return.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type claims struct {
	jwt.RegisteredClaims
	TokenUse string `json:"use"` // "access" or "refresh"
}

// Service registers users and mints token pairs.
type Service struct {
	users  domain.UserStore
	secret []byte
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires a Service. secret signs every token.
func NewService(users domain.UserStore, secret []byte, logger *slog.Logger) *Service {
	return &Service{
		users:  users,
		secret: secret,
		logger: logger.With(slog.String("component", "auth")),
		now:    time.Now,
	}
}

// Register creates a user with a bcrypt-hashed password. Duplicate emails
// surface as CONFLICT.
func (s *Service) Register(ctx context.Context, email, name, password string) (domain.User, error) {
	if email == "" || password == "" {
		return domain.User{}, &domain.RiskViolation{
			Code: domain.CodeAllocationInvalid, Message: "email and password are required",
		}
	}
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return domain.User{}, &domain.RiskViolation{
			Code: domain.CodeConflict, Message: "email already registered",
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, fmt.Errorf("auth: check email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("auth: hash password: %w", err)
	}

	user := domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         domain.RoleTrader,
		CreatedAt:    s.now(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return domain.User{}, fmt.Errorf("auth: create user: %w", err)
	}
	s.logger.Info("user registered", slog.String("user_id", user.ID))
	return user, nil
}

// Login verifies the password and mints a token pair. Unknown emails and bad
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, error) {
	unauthorized := &domain.RiskViolation{
		Code: domain.CodeUnauthorized, Message: "invalid credentials",
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Burn a bcrypt comparison so the miss costs the same.
			_ = bcrypt.CompareHashAndPassword(
				[]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"),
				[]byte(password))
			return TokenPair{}, unauthorized
		}
		return TokenPair{}, fmt.Errorf("auth: load user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return TokenPair{}, unauthorized
	}
	return s.mintPair(user.ID)
}

// Refresh exchanges a valid refresh token for a new pair.
func (s *Service) Refresh(_ context.Context, refreshToken string) (TokenPair, error) {
	userID, use, err := s.parse(refreshToken)
	if err != nil || use != "refresh" {
		return TokenPair{}, &domain.RiskViolation{
			Code: domain.CodeUnauthorized, Message: "invalid refresh token",
		}
	}
	return s.mintPair(userID)
}

// Verify validates an access token and returns the subject user id.
func (s *Service) Verify(token string) (string, error) {
	userID, use, err := s.parse(token)
	if err != nil || use != "access" {
		return "", &domain.RiskViolation{
			Code: domain.CodeUnauthorized, Message: "invalid access token",
		}
	}
	return userID, nil
}

func (s *Service) mintPair(userID string) (TokenPair, error) {
	access, err := s.mint(userID, "access", accessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.mint(userID, "refresh", refreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(accessTokenTTL.Seconds()),
	}, nil
}

func (s *Service) mint(userID, use string, ttl time.Duration) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
		TokenUse: use,
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) parse(tokenString string) (userID, use string, err error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		return "", "", err
	}
	if !token.Valid || c.Subject == "" {
		return "", "", errors.New("auth: invalid token")
	}
	return c.Subject, c.TokenUse, nil
}
