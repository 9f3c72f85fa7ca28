// Package auth covers account registration, credential verification, bearer
// tokens, and the per-user daily quota bookkeeping consumed by middleware.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/lumenchat/backend/internal/model/user"
)

var (
	ErrFieldsRequired     = errors.New("all fields are required")
	ErrUserExists         = errors.New("user with this email or username already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUserNotFound       = errors.New("user not found")
	ErrQuotaExceeded      = errors.New("daily api limit exceeded")
)

// UserStore is the persistence collaborator for accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) error
	GetUserByID(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	UserExists(ctx context.Context, username, email string) (bool, error)
	UpdateUsage(ctx context.Context, id string, apiCalls int, lastCall time.Time) error
}

// Service issues and verifies credentials and tracks daily usage.
type Service struct {
	store  UserStore
	secret []byte
	expiry time.Duration
}

// NewService builds an auth service over the supplied store.
func NewService(store UserStore, secret string, expiry time.Duration) *Service {
	if expiry <= 0 {
		expiry = 30 * 24 * time.Hour
	}
	return &Service{store: store, secret: []byte(secret), expiry: expiry}
}

// Register creates an account and returns it with a fresh bearer token.
func (s *Service) Register(ctx context.Context, username, email, password string) (user.User, string, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" || strings.TrimSpace(password) == "" {
		return user.User{}, "", ErrFieldsRequired
	}

	exists, err := s.store.UserExists(ctx, username, email)
	if err != nil {
		return user.User{}, "", err
	}
	if exists {
		return user.User{}, "", ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return user.User{}, "", fmt.Errorf("hash password: %w", err)
	}

	account := user.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Subscription: user.SubscriptionFree,
		DailyLimit:   user.DefaultDailyLimit,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, account); err != nil {
		return user.User{}, "", err
	}

	token, err := s.issueToken(account.ID)
	if err != nil {
		return user.User{}, "", err
	}
	return account, token, nil
}

// Login verifies the credentials and returns the account with a fresh token.
func (s *Service) Login(ctx context.Context, email, password string) (user.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return user.User{}, "", ErrFieldsRequired
	}

	account, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return user.User{}, "", ErrInvalidCredentials
		}
		return user.User{}, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return user.User{}, "", ErrInvalidCredentials
	}

	token, err := s.issueToken(account.ID)
	if err != nil {
		return user.User{}, "", err
	}
	return account, token, nil
}

// Authenticate resolves a bearer token back to its account.
func (s *Service) Authenticate(ctx context.Context, token string) (user.User, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return user.User{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return user.User{}, ErrInvalidToken
	}

	account, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return user.User{}, ErrInvalidToken
		}
		return user.User{}, err
	}
	return account, nil
}

// ConsumeQuota counts one chat turn against the user's daily limit,
// resetting the counter at day rollover. Returns ErrQuotaExceeded once the
// limit is reached.
func (s *Service) ConsumeQuota(ctx context.Context, userID string) error {
	account, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	calls := account.APICalls
	if account.LastAPICall.IsZero() || !sameDay(account.LastAPICall, now) {
		calls = 0
	}
	if calls >= account.DailyLimit {
		return ErrQuotaExceeded
	}
	return s.store.UpdateUsage(ctx, userID, calls+1, now)
}

func (s *Service) issueToken(userID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
