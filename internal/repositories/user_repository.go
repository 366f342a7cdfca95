package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chirpchat/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository reads the users provisioned by the auth subsystem.
type UserRepository interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
	GetUsers(ctx context.Context, userIDs []string) ([]models.User, error)
	UpsertUser(ctx context.Context, user models.User) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `u.id, COALESCE(u.name, '') AS name, COALESCE(u.email, '') AS email, COALESCE(u.image, '') AS image, u.created_at`

// GetUser fetches a single user.
func (r *UserRepo) GetUser(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users u WHERE u.id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// GetUsers fetches the users that exist among userIDs.
func (r *UserRepo) GetUsers(ctx context.Context, userIDs []string) ([]models.User, error) {
	if len(userIDs) == 0 {
		return []models.User{}, nil
	}
	var users []models.User
	err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users u WHERE u.id = ANY($1) ORDER BY u.id`, pq.Array(userIDs))
	return users, err
}

// UpsertUser syncs the profile carried by a session into the users table.
// Empty fields never overwrite stored values.
func (r *UserRepo) UpsertUser(ctx context.Context, user models.User) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (id, name, email, image) VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''))
        ON CONFLICT (id) DO UPDATE SET
            name = COALESCE(EXCLUDED.name, users.name),
            email = COALESCE(EXCLUDED.email, users.email),
            image = COALESCE(EXCLUDED.image, users.image)`,
		user.ID, user.Name, user.Email, user.Image)
	return err
}
