package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type RegisterInput struct {
	Email    string      `json:"email" validate:"required,email,max=255"`
	Name     string      `json:"name" validate:"required,max=100"`
	Contact  string      `json:"contact" validate:"omitempty,max=32"`
	Password string      `json:"password" validate:"required,min=8,max=72"`
	Role     domain.Role `json:"role" validate:"omitempty,oneof=1 2"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AuthResult is returned by both registration and login.
type AuthResult struct {
	ID      string      `json:"id"`
	Token   string      `json:"token"`
	Email   string      `json:"email"`
	Name    string      `json:"name"`
	Contact string      `json:"contact"`
	Role    domain.Role `json:"role"`
}

type UserService struct {
	users    port.UserRepository
	tokens   port.TokenIssuer
	hasher   port.PasswordHasher
	validate *validator.Validate
	logger   *zap.Logger

	allowAdminSignup bool
}

type UserOption func(*UserService)

// WithAdminSignup lets Register create admin accounts. Off by default.
func WithAdminSignup(allow bool) UserOption {
	return func(s *UserService) {
		s.allowAdminSignup = allow
	}
}

func NewUserService(users port.UserRepository, tokens port.TokenIssuer, hasher port.PasswordHasher, logger *zap.Logger, opts ...UserOption) *UserService {
	s := &UserService{
		users:    users,
		tokens:   tokens,
		hasher:   hasher,
		validate: validator.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *UserService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Email = normalizeEmail(in.Email)
	if err := validateStruct(s.validate, in); err != nil {
		return nil, err
	}
	if in.Role == 0 {
		in.Role = domain.RoleBuyer
	}
	if in.Role == domain.RoleAdmin && !s.allowAdminSignup {
		s.logger.Warn("Admin registration refused", zap.String("email", in.Email))
		return nil, ErrUnauthorized
	}

	existing, err := s.users.GetUserByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if existing != nil {
		return nil, ErrExistingUser
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:           uuid.New().String(),
		Email:        in.Email,
		Name:         strings.TrimSpace(in.Name),
		Contact:      strings.TrimSpace(in.Contact),
		PasswordHash: hash,
		Role:         in.Role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, domain.ErrDuplicateEmail) {
			return nil, ErrExistingUser
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("User registered", zap.String("user_id", user.ID), zap.String("role", user.Role.String()))
	return s.authResult(user)
}

func (s *UserService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	in.Email = normalizeEmail(in.Email)
	if err := validateStruct(s.validate, in); err != nil {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetUserByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil || !s.hasher.Verify(in.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return s.authResult(*user)
}

func (s *UserService) authResult(user domain.User) (*AuthResult, error) {
	token, err := s.tokens.IssueToken(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &AuthResult{
		ID:      user.ID,
		Token:   token,
		Email:   user.Email,
		Name:    user.Name,
		Contact: user.Contact,
		Role:    user.Role,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateStruct reports the first failing field as a *domain.ValidationError.
func validateStruct(v *validator.Validate, in any) error {
	err := v.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return domain.NewValidationError(strings.ToLower(fe.Field()), "failed on the '"+fe.Tag()+"' rule")
	}
	return domain.NewValidationError("input", err.Error())
}
