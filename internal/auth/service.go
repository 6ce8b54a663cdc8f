// Package auth registers users, issues access tokens and resolves bearer
// tokens back to users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spigell/cv-matcher/internal/apperr"
	"github.com/spigell/cv-matcher/internal/storage"
)

const DefaultTokenTTL = 30 * time.Minute

var (
	ErrEmailTaken         = apperr.New(apperr.KindConflict, "Email already registered", nil)
	ErrBadCredentials     = apperr.Unauthorized("Incorrect email or password")
	ErrInvalidCredentials = apperr.Unauthorized("Invalid authentication credentials")
	ErrInvalidUserType    = apperr.Input("Invalid user type")
)

type UserStore interface {
	FindUser(ctx context.Context, userType storage.UserType, email string) (*storage.User, error)
	CreateUser(ctx context.Context, u *storage.User) (string, error)
}

type EmployeeRegistration struct {
	FullName        string `json:"full_name" validate:"required,min=2,max=100"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" validate:"required,min=8,eqfield=Password"`
}

type EmployerRegistration struct {
	BusinessEmail   string `json:"business_email" validate:"required,email"`
	CompanyName     string `json:"company_name" validate:"required,min=2,max=100"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" validate:"required,min=8,eqfield=Password"`
}

type Registered struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type Service struct {
	users    UserStore
	tokens   *Tokens
	validate *validator.Validate
	cost     int
	now      func() time.Time
	logger   *zap.Logger
}

type Option func(*Service)

// WithHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func WithHashCost(cost int) Option {
	return func(s *Service) {
		s.cost = cost
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(users UserStore, tokens *Tokens, opts ...Option) *Service {
	s := &Service{
		users:    users,
		tokens:   tokens,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) RegisterEmployee(ctx context.Context, reg EmployeeRegistration) (Registered, error) {
	if err := s.validate.Struct(reg); err != nil {
		return Registered{}, validationError(err)
	}

	return s.register(ctx, &storage.User{
		Email:    strings.TrimSpace(reg.Email),
		UserType: storage.Employee,
		FullName: strings.TrimSpace(reg.FullName),
	}, reg.Password)
}

func (s *Service) RegisterEmployer(ctx context.Context, reg EmployerRegistration) (Registered, error) {
	if err := s.validate.Struct(reg); err != nil {
		return Registered{}, validationError(err)
	}

	return s.register(ctx, &storage.User{
		Email:       strings.TrimSpace(reg.BusinessEmail),
		UserType:    storage.Employer,
		CompanyName: strings.TrimSpace(reg.CompanyName),
	}, reg.Password)
}

func (s *Service) register(ctx context.Context, user *storage.User, password string) (Registered, error) {
	_, err := s.users.FindUser(ctx, user.UserType, user.Email)
	switch {
	case err == nil:
		return Registered{}, ErrEmailTaken
	case !errors.Is(err, storage.ErrNotFound):
		return Registered{}, apperr.Upstream("Could not register user", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return Registered{}, apperr.New(apperr.KindInput, "password must be at most 72 bytes", err)
		}
		return Registered{}, fmt.Errorf("hash password: %w", err)
	}

	user.PasswordHash = string(hash)
	user.CreatedAt = s.now()
	user.Active = true

	id, err := s.users.CreateUser(ctx, user)
	if err != nil {
		return Registered{}, apperr.Upstream("Could not register user", err)
	}

	s.logger.Info("user registered", zap.String("user_type", string(user.UserType)), zap.String("user_id", id))

	return Registered{ID: id, Message: registeredMessage(user.UserType)}, nil
}

func registeredMessage(t storage.UserType) string {
	if t == storage.Employer {
		return "Employer registered successfully"
	}
	return "Employee registered successfully"
}

// Login checks the credentials of a user of the given type and issues a token.
func (s *Service) Login(ctx context.Context, email, password string, userType storage.UserType) (Token, error) {
	if !userType.Valid() {
		return Token{}, ErrInvalidUserType
	}

	user, err := s.users.FindUser(ctx, userType, strings.TrimSpace(email))
	if errors.Is(err, storage.ErrNotFound) {
		return Token{}, ErrBadCredentials
	}
	if err != nil {
		return Token{}, apperr.Upstream("Could not log in", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Token{}, ErrBadCredentials
	}

	return s.tokens.Issue(user.Email, userType)
}

// Resolve maps a bearer token to its user.
func (s *Service) Resolve(ctx context.Context, bearer string) (*storage.User, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return nil, ErrInvalidCredentials
	}

	claims, err := s.tokens.Verify(bearer)
	if err != nil {
		s.logger.Debug("rejected access token", zap.Error(err))
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.FindUser(ctx, claims.UserType, claims.Subject)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, apperr.Upstream("Could not resolve user", err)
	}

	return user, nil
}

func validationError(err error) error {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return apperr.New(apperr.KindInput, "Invalid registration", err)
	}

	f := fields[0]
	var msg string
	switch f.Tag() {
	case "eqfield":
		msg = "Passwords do not match"
	case "required":
		msg = fmt.Sprintf("%s is required", fieldName(f))
	case "email":
		msg = fmt.Sprintf("%s must be a valid email address", fieldName(f))
	case "min":
		msg = fmt.Sprintf("%s must be at least %s characters", fieldName(f), f.Param())
	case "max":
		msg = fmt.Sprintf("%s must be at most %s characters", fieldName(f), f.Param())
	default:
		msg = fmt.Sprintf("%s is invalid", fieldName(f))
	}

	return apperr.New(apperr.KindInput, msg, err)
}

func fieldName(f validator.FieldError) string {
	switch f.Field() {
	case "FullName":
		return "full_name"
	case "Email":
		return "email"
	case "BusinessEmail":
		return "business_email"
	case "CompanyName":
		return "company_name"
	case "Password":
		return "password"
	case "ConfirmPassword":
		return "confirm_password"
	default:
		return strings.ToLower(f.Field())
	}
}
