package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/medibook/internal/platform/auth"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUsernameTaken      = errors.New("username or email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
)

// User maps to the app_user table. Role is fixed at creation.
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	Phone        *string   `db:"phone" json:"phone,omitempty"`
	Address      *string   `db:"address" json:"address,omitempty"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         auth.Role `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Doctor maps to the doctor table. Each doctor-role user owns exactly one.
type Doctor struct {
	ID              uuid.UUID `db:"id" json:"id"`
	UserID          uuid.UUID `db:"user_id" json:"user_id"`
	Name            string    `db:"name" json:"name"`
	Department      string    `db:"department" json:"department"`
	ExperienceYears int       `db:"experience_years" json:"experience_years"`
	Certificates    string    `db:"certificates" json:"certificates,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Registration is the self-service sign-up payload. The resulting account is
// always a patient.
type Registration struct {
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Phone    *string `json:"phone,omitempty"`
	Address  *string `json:"address,omitempty"`
	Password string  `json:"password"`
}

// NewDoctor is the administrator payload creating a doctor account and its
// profile together.
type NewDoctor struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	Name            string `json:"name"`
	Department      string `json:"department"`
	ExperienceYears int    `json:"experience_years"`
	Certificates    string `json:"certificates"`
}

// Session is the result of a successful login.
type Session struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
}
