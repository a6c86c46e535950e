package session

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, sealer *Sealer) *Store {
	t.Helper()
	db, err := OpenDB("", ":memory:")
	require.NoError(t, err)
	return &Store{DB: db, Sealer: sealer}
}

func testSealer(t *testing.T) *Sealer {
	t.Helper()
	key := hex.EncodeToString([]byte(strings.Repeat("k", 32)))
	s, err := NewSealer(key)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func TestSaveGetDelete(t *testing.T) {
	store := testStore(t, testSealer(t))
	ctx := context.Background()
	id, userID := uuid.New(), uuid.New()
	tokens := Tokens{AccessToken: "acc-1", RefreshToken: "ref-1"}

	require.NoError(t, store.Save(ctx, id, userID, tokens, time.Now().Add(time.Hour)))

	row, got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, userID, row.UserID)
	require.Equal(t, tokens, got)

	require.NoError(t, store.Delete(ctx, id))
	_, _, err = store.Get(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveUpserts(t *testing.T) {
	store := testStore(t, nil)
	ctx := context.Background()
	id, userID := uuid.New(), uuid.New()

	require.NoError(t, store.Save(ctx, id, userID, Tokens{AccessToken: "old"}, time.Now().Add(time.Hour)))
	require.NoError(t, store.Save(ctx, id, userID, Tokens{AccessToken: "new"}, time.Now().Add(time.Hour)))

	_, got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "new", got.AccessToken)
}

func TestGetUnknownID(t *testing.T) {
	store := testStore(t, nil)
	_, _, err := store.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetExpiredSessionIsGone(t *testing.T) {
	store := testStore(t, nil)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, store.Save(ctx, id, uuid.New(), Tokens{AccessToken: "acc"}, time.Now().Add(-time.Minute)))

	_, _, err := store.Get(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)

	// The expired row was deleted, not just skipped.
	var count int64
	require.NoError(t, store.DB.Model(&Session{}).Where("id = ?", id).Count(&count).Error)
	require.Zero(t, count)
}

func TestPurgeExpired(t *testing.T) {
	store := testStore(t, nil)
	ctx := context.Background()
	live, dead := uuid.New(), uuid.New()

	require.NoError(t, store.Save(ctx, live, uuid.New(), Tokens{}, time.Now().Add(time.Hour)))
	require.NoError(t, store.Save(ctx, dead, uuid.New(), Tokens{}, time.Now().Add(-time.Hour)))

	require.NoError(t, store.PurgeExpired(ctx))

	var count int64
	require.NoError(t, store.DB.Model(&Session{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestTokensSealedAtRest(t *testing.T) {
	store := testStore(t, testSealer(t))
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, store.Save(ctx, id, uuid.New(), Tokens{AccessToken: "acc-secret"}, time.Now().Add(time.Hour)))

	var row Session
	require.NoError(t, store.DB.First(&row, "id = ?", id).Error)
	require.NotContains(t, string(row.AccessToken), "acc-secret")
}

func TestSealRoundTrip(t *testing.T) {
	s := testSealer(t)

	sealed, err := s.Seal([]byte("token-material"))
	require.NoError(t, err)
	require.NotEqual(t, []byte("token-material"), sealed)

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("token-material"), plain)
}

func TestSealTamperDetected(t *testing.T) {
	s := testSealer(t)
	sealed, err := s.Seal([]byte("token-material"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = s.Open(sealed)
	require.Error(t, err)
}

func TestNilSealerPassesThrough(t *testing.T) {
	var s *Sealer
	sealed, err := s.Seal([]byte("plain"))
	require.NoError(t, err)
	require.Equal(t, []byte("plain"), sealed)
}

func TestNewSealerRejectsBadKeys(t *testing.T) {
	s, err := NewSealer("")
	require.NoError(t, err)
	require.Nil(t, s)

	_, err = NewSealer("zz")
	require.Error(t, err)

	_, err = NewSealer(hex.EncodeToString([]byte("short")))
	require.Error(t, err)
}
