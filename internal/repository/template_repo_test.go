//go:build !integration && !e2e
// +build !integration,!e2e

package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/pmb-go/internal/models"
	"github.com/user/pmb-go/tests/testutil"
)

func TestTemplateRepository_SaveAndFind(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewTemplateRepository(db)
	ctx := context.Background()

	tpl := &models.RequestTemplate{
		ID:      "tpl-new",
		Name:    "probe",
		Method:  "POST",
		URL:     "http://target.test/login",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    `{"user":"admin"}`,
	}
	require.NoError(t, repo.Save(ctx, tpl))
	assert.False(t, tpl.Created.IsZero())
	assert.False(t, tpl.LastSaved.IsZero())

	found, err := repo.FindByID(ctx, "tpl-new")
	require.NoError(t, err)
	assert.Equal(t, "probe", found.Name)
	assert.Equal(t, "POST", found.Method)
	assert.Equal(t, map[string]string{"Content-Type": "application/json"}, found.Headers)
	assert.Equal(t, `{"user":"admin"}`, found.Body)
}

func TestTemplateRepository_FindByID_Missing(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewTemplateRepository(db)

	_, err := repo.FindByID(context.Background(), "nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestTemplateRepository_SaveUpsert(t *testing.T) {
	db := testutil.NewTestDB(t)
	testutil.SeedTemplates(t, db)
	repo := NewTemplateRepository(db)
	ctx := context.Background()

	before, err := repo.FindByID(ctx, "tpl-1")
	require.NoError(t, err)

	updated := &models.RequestTemplate{
		ID:     "tpl-1",
		Name:   "login probe v2",
		Method: "PUT",
		URL:    "http://target.test/login2",
		Body:   "user=root",
	}
	require.NoError(t, repo.Save(ctx, updated))

	after, err := repo.FindByID(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, "login probe v2", after.Name)
	assert.Equal(t, "PUT", after.Method)
	assert.True(t, after.LastSaved.After(before.LastSaved))

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2, "upsert does not duplicate")
}

func TestTemplateRepository_FindAllOrder(t *testing.T) {
	db := testutil.NewTestDB(t)
	testutil.SeedTemplates(t, db)
	repo := NewTemplateRepository(db)

	all, err := repo.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "tpl-2", all[0].ID, "most recently saved first")
}

func TestTemplateRepository_ListSummaries(t *testing.T) {
	db := testutil.NewTestDB(t)
	testutil.SeedTemplates(t, db)
	repo := NewTemplateRepository(db)

	summaries, err := repo.ListSummaries(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "tpl-2", summaries[0].ID)
	assert.Equal(t, "api listing", summaries[0].Name)
	_, err = time.Parse(time.RFC3339, summaries[0].LastSaved)
	assert.NoError(t, err)
}

func TestTemplateRepository_Delete(t *testing.T) {
	db := testutil.NewTestDB(t)
	testutil.SeedTemplates(t, db)
	repo := NewTemplateRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Delete(ctx, "tpl-1"))
	_, err := repo.FindByID(ctx, "tpl-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	// Deleting a missing row is not an error.
	assert.NoError(t, repo.Delete(ctx, "tpl-1"))
}
