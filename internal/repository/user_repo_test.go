package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/viral_go_server/internal/testutil"
)

func TestUserRepository_GetByID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserRepository(db)
	created := testutil.TestUser(t, db)

	found, err := repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, created.Username, found.Username)
	assert.Nil(t, found.PlanID)
}

func TestUserRepository_GetByID_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserRepository(db)

	_, err := repo.GetByID(context.Background(), 99999)
	assert.Error(t, err)
}

func TestUserRepository_GetByEmail(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserRepository(db)
	testutil.TestUser(t, db, testutil.WithEmail("unique@example.com"))

	found, err := repo.GetByEmail(context.Background(), "unique@example.com")
	require.NoError(t, err)
	assert.Equal(t, "unique@example.com", *found.Email)
}

func TestUserRepository_UpdatePlan(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserRepository(db)
	ctx := context.Background()
	user := testutil.TestUser(t, db)

	plan := "pro"
	require.NoError(t, repo.UpdatePlan(ctx, user.ID, &plan))

	found, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, found.PlanID)
	assert.Equal(t, "pro", *found.PlanID)

	require.NoError(t, repo.UpdatePlan(ctx, user.ID, nil))
	found, err = repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, found.PlanID)
}

func TestUserRepository_Exists(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserRepository(db)
	ctx := context.Background()
	testutil.TestUser(t, db, testutil.WithUsername("alice"), testutil.WithEmail("alice@example.com"))

	exists, err := repo.ExistsByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, exists)
}
