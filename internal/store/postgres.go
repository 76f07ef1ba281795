package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayush/library-catalog/backend/internal/models"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// PostgresUserStore keeps user accounts in PostgreSQL instead of the users
// collection. Authors and books always live in MongoDB.
type PostgresUserStore struct {
	pool *pgxpool.Pool
}

func NewPostgresUserStore(pool *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

// Migrate creates the users table if it doesn't exist.
func (s *PostgresUserStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			username       VARCHAR(100) UNIQUE NOT NULL,
			favorite_genre VARCHAR(100) NOT NULL,
			created_at     TIMESTAMPTZ  DEFAULT NOW()
		)
	`)
	return err
}

func (s *PostgresUserStore) CreateUser(ctx context.Context, username, favoriteGenre string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, favorite_genre)
		 VALUES ($1, $2)
		 RETURNING id::text, username, favorite_genre`,
		username, favoriteGenre,
	).Scan(&u.ID, &u.Username, &u.FavoriteGenre)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("create user: %w: %s", ErrDuplicate, pgErr.Detail)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

func (s *PostgresUserStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.queryUser(ctx,
		`SELECT id::text, username, favorite_genre FROM users WHERE username = $1`, username)
}

func (s *PostgresUserStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.queryUser(ctx,
		`SELECT id::text, username, favorite_genre FROM users WHERE id::text = $1`, id)
}

func (s *PostgresUserStore) queryUser(ctx context.Context, query string, arg string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Username, &u.FavoriteGenre)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
