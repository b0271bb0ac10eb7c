package identity

import (
	"context"

	"github.com/google/uuid"

	"github.com/medibook/medibook/internal/platform/auth"
)

type UserRepository interface {
	// Create returns ErrUsernameTaken when the username or email is in use.
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	// List filters by role when role is non-empty.
	List(ctx context.Context, role auth.Role, limit, offset int) ([]*User, int, error)
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error)
	List(ctx context.Context, department string) ([]*Doctor, error)
}
