// README: Identity store backed by PostgreSQL (users and role assignments).
package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"delixmi/internal/errs"
)

var ErrUserNotFound = errs.NotFound("USER_NOT_FOUND", "user not found")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetUserWithRoles(ctx context.Context, id uuid.UUID) (*User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, COALESCE(phone, '')
		FROM users
		WHERE id = $1`, id,
	)

	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT role, restaurant_id
		FROM user_roles
		WHERE user_id = $1
		ORDER BY id`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var a RoleAssignment
		if err := rows.Scan(&a.Role, &a.RestaurantID); err != nil {
			return nil, err
		}
		u.Roles = append(u.Roles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &u, nil
}
