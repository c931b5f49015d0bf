package rbac

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_UpsertProfile(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	profile := &Profile{
		Name:           "tecnico-visto",
		Description:    "Técnico de fiscalização preventiva",
		Permissions:    []Permission{PermProcessView, PermVistoView, PermVistoAnalyze},
		FunctionalArea: &FunctionalArea{Name: "Fiscalização Preventiva"},
	}
	require.NoError(t, store.UpsertProfile(ctx, profile))
	assert.NotEmpty(t, profile.ID)
	assert.NotEmpty(t, profile.FunctionalArea.ID)

	loaded, err := store.GetProfile(ctx, "tecnico-visto")
	require.NoError(t, err)
	assert.Equal(t, profile.ID, loaded.ID)
	assert.Equal(t, profile.Permissions, loaded.Permissions)
	assert.Equal(t, "Fiscalização Preventiva", loaded.FunctionalArea.Name)

	t.Run("update keeps the id", func(t *testing.T) {
		updated := &Profile{Name: "tecnico-visto", Permissions: []Permission{PermVistoView}}
		require.NoError(t, store.UpsertProfile(ctx, updated))
		assert.Equal(t, profile.ID, updated.ID)

		loaded, err := store.GetProfile(ctx, "tecnico-visto")
		require.NoError(t, err)
		assert.Equal(t, []Permission{PermVistoView}, loaded.Permissions)
		assert.Nil(t, loaded.FunctionalArea)
	})

	t.Run("unknown permission is rejected", func(t *testing.T) {
		err := store.UpsertProfile(ctx, &Profile{Name: "bad", Permissions: []Permission{"process.teleport"}})
		assert.ErrorIs(t, err, ErrUnknownPermission)

		_, err = store.GetProfile(ctx, "bad")
		assert.ErrorIs(t, err, ErrProfileNotFound)
	})
}

func TestStore_Assignments(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	require.NoError(t, store.UpsertProfile(ctx, &Profile{Name: "A", Permissions: []Permission{PermProcessView, PermProcessEdit}}))
	require.NoError(t, store.UpsertProfile(ctx, &Profile{Name: "B", Permissions: []Permission{PermProcessEdit, PermFineView}}))

	require.NoError(t, store.AssignProfile(ctx, "p1", "A"))
	require.NoError(t, store.AssignProfile(ctx, "p1", "B"))
	require.NoError(t, store.AssignProfile(ctx, "p1", "B"))

	profiles, err := store.ListProfileAssignments(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "A", profiles[0].Name)
	assert.Equal(t, "B", profiles[1].Name)

	none, err := store.ListProfileAssignments(ctx, "p2")
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, store.RevokeProfile(ctx, "p1", "A"))
	profiles, err = store.ListProfileAssignments(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "B", profiles[0].Name)

	assert.ErrorIs(t, store.AssignProfile(ctx, "p1", "missing"), ErrProfileNotFound)
	assert.ErrorIs(t, store.RevokeProfile(ctx, "p1", "missing"), ErrProfileNotFound)
}

func TestStore_Admin(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	isAdmin, err := store.IsAdmin(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, isAdmin)

	require.NoError(t, store.GrantAdmin(ctx, "p1"))
	require.NoError(t, store.GrantAdmin(ctx, "p1"))

	isAdmin, err = store.IsAdmin(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, isAdmin)

	require.NoError(t, store.RevokeAdmin(ctx, "p1"))
	isAdmin, err = store.IsAdmin(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, isAdmin)
}

func TestStore_ListProfiles(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	require.NoError(t, store.UpsertProfile(ctx, &Profile{Name: "zeta"}))
	require.NoError(t, store.UpsertProfile(ctx, &Profile{Name: "alfa", Permissions: []Permission{PermUserView}}))

	profiles, err := store.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "alfa", profiles[0].Name)
	assert.Equal(t, "zeta", profiles[1].Name)
	assert.Empty(t, profiles[1].Permissions)
}

func TestStore_DropsUnknownStoredPermissions(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	logger, hook := test.NewNullLogger()
	store := NewStore(db, logger)

	_, err := db.Exec(`INSERT INTO profiles (id, name, permissions) VALUES ('legacy-id', 'legacy', '["process.view","process.legacy"]')`)
	require.NoError(t, err)

	profile, err := store.GetProfile(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, []Permission{PermProcessView}, profile.Permissions)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "process.legacy", hook.LastEntry().Data["permission"])
}

func TestStore_UpsertFunctionalArea(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	first, err := store.UpsertFunctionalArea(ctx, "Contas")
	require.NoError(t, err)
	second, err := store.UpsertFunctionalArea(ctx, "Contas")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = store.UpsertFunctionalArea(ctx, "")
	assert.Error(t, err)
}
