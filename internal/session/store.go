// Package session persists browser sessions: the cookie id, the auth
// tokens behind it and their expiry. Tokens are sealed at rest when a
// seal key is configured.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("session not found")

type Session struct {
	ID           uuid.UUID `gorm:"primaryKey"`
	UserID       uuid.UUID `gorm:"index"`
	AccessToken  []byte
	RefreshToken []byte
	ExpiresAt    time.Time `gorm:"index;not null"`
	CreatedAt    time.Time
}

func (Session) TableName() string { return "sessions" }

// OpenDB connects to postgres when databaseURL is set, otherwise to
// the embedded sqlite file, and migrates the sessions table.
func OpenDB(databaseURL, sqlitePath string) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	if databaseURL != "" {
		db, err = gorm.Open(postgres.Open(databaseURL), &gorm.Config{
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
	} else {
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
	}
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		configurePool(sqlDB)
	}

	if err := db.AutoMigrate(&Session{}); err != nil {
		return nil, fmt.Errorf("migrate sessions: %w", err)
	}
	return db, nil
}

func configurePool(sqlDB *sql.DB) {
	const (
		maxOpenConns    = 20
		maxIdleConns    = 10
		connMaxLifetime = 30 * time.Minute
		connMaxIdleTime = 5 * time.Minute
	)
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
}

type Store struct {
	DB     *gorm.DB
	Sealer *Sealer
}

// Tokens is the unsealed view of a session's auth material.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// Save upserts the session row with sealed tokens.
func (s *Store) Save(ctx context.Context, id, userID uuid.UUID, t Tokens, expiresAt time.Time) error {
	access, err := s.Sealer.Seal([]byte(t.AccessToken))
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	refresh, err := s.Sealer.Seal([]byte(t.RefreshToken))
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}

	row := Session{
		ID:           id,
		UserID:       userID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}
	return s.DB.WithContext(ctx).Save(&row).Error
}

// Get looks the session up and unseals its tokens. Expired rows are
// deleted on the way out and reported as not found.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Session, Tokens, error) {
	var row Session
	if err := s.DB.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Tokens{}, ErrNotFound
		}
		return nil, Tokens{}, err
	}

	if time.Now().After(row.ExpiresAt) {
		_ = s.DB.WithContext(ctx).Delete(&Session{}, "id = ?", id).Error
		return nil, Tokens{}, ErrNotFound
	}

	access, err := s.Sealer.Open(row.AccessToken)
	if err != nil {
		return nil, Tokens{}, fmt.Errorf("unseal access token: %w", err)
	}
	refresh, err := s.Sealer.Open(row.RefreshToken)
	if err != nil {
		return nil, Tokens{}, fmt.Errorf("unseal refresh token: %w", err)
	}
	return &row, Tokens{AccessToken: string(access), RefreshToken: string(refresh)}, nil
}

// Delete drops the session, used on sign-out.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	return s.DB.WithContext(ctx).Delete(&Session{}, "id = ?", id).Error
}

// PurgeExpired removes rows past their expiry.
func (s *Store) PurgeExpired(ctx context.Context) error {
	return s.DB.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Delete(&Session{}).Error
}
