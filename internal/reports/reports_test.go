package reports

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebausal/bilshare/internal/apperr"
	"github.com/efebausal/bilshare/internal/models"
	"github.com/efebausal/bilshare/internal/storage"
)

func seedUser(t *testing.T, store *storage.Memory, name string) *models.User {
	t.Helper()
	now := time.Now().UTC()
	u := models.User{
		ID: uuid.NewString(), ExternalID: "ext_" + uuid.NewString(),
		Email: name + "@bilkent.edu.tr", Name: name, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateUser(context.Background(), &u))
	return &u
}

func TestFile(t *testing.T) {
	store := storage.NewMemory()
	svc := New(store, nil)
	ctx := context.Background()
	filer := seedUser(t, store, "filer")
	target := seedUser(t, store, "target")

	_, err := svc.File(ctx, filer, FileParams{TargetID: filer.ID, Reason: "spam"})
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument), "self-report")

	_, err = svc.File(ctx, filer, FileParams{TargetID: "missing", Reason: "spam"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = svc.File(ctx, filer, FileParams{TargetID: target.ID, Reason: ""})
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))

	_, err = svc.File(ctx, filer, FileParams{TargetID: target.ID, Reason: strings.Repeat("x", 101)})
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))

	rep, err := svc.File(ctx, filer, FileParams{
		TargetID: target.ID,
		Reason:   "no-show",
		Details:  "agreed on 9:00, never arrived",
	})
	require.NoError(t, err)
	assert.Equal(t, filer.ID, rep.FilerID)
	assert.Equal(t, target.ID, rep.TargetID)
	assert.Nil(t, rep.RideID)

	// a second report against the same target is just another record
	_, err = svc.File(ctx, filer, FileParams{TargetID: target.ID, Reason: "no-show"})
	require.NoError(t, err)
}
