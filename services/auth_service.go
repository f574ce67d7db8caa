package services

import (
	"context"
	"errors"
	"time"

	"github.com/taskpulse/backend/models"
	"github.com/taskpulse/backend/repositories"
	"github.com/taskpulse/backend/token"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// TokenIssuer signs access tokens for authenticated users
type TokenIssuer interface {
	Issue(claims token.Claims, ttl time.Duration) (string, error)
}

// AuthService registers and authenticates email/password accounts
type AuthService struct {
	users  repositories.UserRepository
	issuer TokenIssuer
	cost   int
	logger *zap.Logger

	// dummyHash is compared against when the email is unknown so a miss costs
	// the same bcrypt work as a wrong password
	dummyHash []byte
}

// NewAuthService creates a new AuthService. cost <= 0 selects bcrypt.DefaultCost.
func NewAuthService(users repositories.UserRepository, issuer TokenIssuer, cost int, logger *zap.Logger) *AuthService {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("taskpulse-timing-equalizer"), cost)
	if err != nil {
		logger.Warn("failed to prepare dummy password hash", zap.Error(err))
	}
	return &AuthService{
		users:     users,
		issuer:    issuer,
		cost:      cost,
		logger:    logger,
		dummyHash: dummy,
	}
}

// Register creates an account and returns it with a fresh access token
func (s *AuthService) Register(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	email = models.NormalizeEmail(email)

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return nil, WrapInternal("failed to look up user", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, WrapInternal("failed to hash password", err)
	}

	user := models.NewUser(email, string(hash))
	if err := s.users.Create(ctx, user); err != nil {
		// lost a race with a concurrent registration
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, ErrDuplicateEmail
		}
		return nil, WrapInternal("failed to create user", err)
	}

	s.logger.Info("user registered", zap.Int64("user_id", user.ID))
	return s.respond(user)
}

// Authenticate checks credentials and returns the user with a fresh access token.
// Unknown email and wrong password both yield ErrInvalidCredentials.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	user, err := s.users.GetByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, WrapInternal("failed to look up user", err)
		}
		if s.dummyHash != nil {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		}
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}

	return s.respond(user)
}

// GetUser returns the account with the given id
func (s *AuthService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrResourceNotFound
		}
		return nil, WrapInternal("failed to get user", err)
	}
	return user, nil
}

func (s *AuthService) respond(user *models.User) (*models.AuthResponse, error) {
	signed, err := s.issuer.Issue(token.Claims{UserID: user.ID, Email: user.Email}, 0)
	if err != nil {
		return nil, WrapInternal("failed to issue token", err)
	}
	return &models.AuthResponse{
		UserID: user.ID,
		Email:  user.Email,
		Token:  signed,
	}, nil
}
