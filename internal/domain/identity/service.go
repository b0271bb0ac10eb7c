package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/db"
)

const maxUsernameLength = 80

type Service struct {
	users   UserRepository
	doctors DoctorRepository
	tx      db.TxRunner
	tokens  *auth.TokenIssuer
	logger  zerolog.Logger
}

// NewService wires the identity store. A nil tx runs each write on its own.
func NewService(users UserRepository, doctors DoctorRepository, tx db.TxRunner, tokens *auth.TokenIssuer, logger zerolog.Logger) *Service {
	if tx == nil {
		tx = db.NopTxRunner{}
	}
	return &Service{users: users, doctors: doctors, tx: tx, tokens: tokens, logger: logger}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func normalizeAccount(username, email, password string) (string, string, string, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	switch {
	case username == "":
		return "", "", "", invalid("username is required")
	case len(username) > maxUsernameLength:
		return "", "", "", invalid("username must be at most %d characters", maxUsernameLength)
	case strings.ContainsAny(username, " \t\n"):
		return "", "", "", invalid("username must not contain spaces")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", "", "", invalid("email is invalid")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			return "", "", "", invalid("password must be at least %d characters", auth.MinPasswordLength)
		}
		return "", "", "", err
	}
	return username, strings.ToLower(email), hash, nil
}

// -- Accounts --

// RegisterPatient creates a patient account. The role cannot be chosen.
func (s *Service) RegisterPatient(ctx context.Context, in Registration) (*User, error) {
	username, email, hash, err := normalizeAccount(in.Username, in.Email, in.Password)
	if err != nil {
		return nil, err
	}
	u := &User{
		Username:     username,
		Email:        email,
		Phone:        trimmed(in.Phone),
		Address:      trimmed(in.Address),
		PasswordHash: hash,
		Role:         auth.RolePatient,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Msg("patient registered")
	return u, nil
}

// CreateDoctor creates a doctor account and its profile in one transaction.
func (s *Service) CreateDoctor(ctx context.Context, in NewDoctor) (*Doctor, error) {
	username, email, hash, err := normalizeAccount(in.Username, in.Email, in.Password)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("name is required")
	}
	if in.ExperienceYears < 0 {
		return nil, invalid("experience_years must not be negative")
	}

	var d *Doctor
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		u := &User{Username: username, Email: email, PasswordHash: hash, Role: auth.RoleDoctor}
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		d = &Doctor{
			UserID:          u.ID,
			Name:            name,
			Department:      strings.TrimSpace(in.Department),
			ExperienceYears: in.ExperienceYears,
			Certificates:    strings.TrimSpace(in.Certificates),
		}
		return s.doctors.Create(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("doctor_id", d.ID.String()).Str("user_id", d.UserID.String()).Msg("doctor created")
	return d, nil
}

// EnsureAdmin creates the administrator account unless a user with that name
// already exists. It reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, username, email, password string) (*User, bool, error) {
	existing, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	switch {
	case err == nil:
		if existing.Role != auth.RoleAdministrator {
			return nil, false, invalid("user %q exists with role %s", existing.Username, existing.Role)
		}
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, fmt.Errorf("lookup admin: %w", err)
	}

	username, email, hash, err := normalizeAccount(username, email, password)
	if err != nil {
		return nil, false, err
	}
	u := &User{Username: username, Email: email, PasswordHash: hash, Role: auth.RoleAdministrator}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, false, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Msg("administrator created")
	return u, true, nil
}

// Login verifies the password and issues an access token.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	token, exp, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return nil, err
	}
	return &Session{AccessToken: token, TokenType: "Bearer", ExpiresAt: exp, User: u}, nil
}

// -- Reads --

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, role auth.Role, limit, offset int) ([]*User, int, error) {
	if role != "" && !role.Valid() {
		return nil, 0, invalid("unknown role %q", role)
	}
	return s.users.List(ctx, role, limit, offset)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

// DoctorForUser returns the profile owned by a doctor-role user.
func (s *Service) DoctorForUser(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByUserID(ctx, userID)
}

func (s *Service) ListDoctors(ctx context.Context, department string) ([]*Doctor, error) {
	return s.doctors.List(ctx, department)
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}
