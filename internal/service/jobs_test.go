package service

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/picpaygo/internal/errs"
	"github.com/and161185/picpaygo/internal/model"
)

func TestJobManager_Create(t *testing.T) {
	e := newEnv(t)
	m := e.jobManager()
	ctx := context.Background()
	owner := e.guest(t)

	j, err := m.Create(ctx, uuid.Nil, owner, "portraits", inputAsset())
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, j.ID)
	require.Equal(t, model.JobQueued, j.Status)

	got, err := m.GetStatus(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobQueued, got.Status)
	require.True(t, got.Owner.Equal(owner))

	_, err = m.Create(ctx, uuid.Nil, owner, "landscapes", inputAsset())
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = m.Create(ctx, uuid.Nil, model.Owner{}, "portraits", inputAsset())
	require.ErrorIs(t, err, errs.ErrInvalidOwner)
}

func TestJobManager_GetForOwner(t *testing.T) {
	e := newEnv(t)
	m := e.jobManager()
	ctx := context.Background()
	owner, other := e.guest(t), e.account(t)

	j, err := m.Create(ctx, uuid.Nil, owner, "editorial", inputAsset())
	require.NoError(t, err)

	got, assets, err := m.GetForOwner(ctx, owner, j.ID)
	require.NoError(t, err)
	require.Equal(t, j.ID, got.ID)
	require.Len(t, assets, 1)
	require.Equal(t, model.AssetInput, assets[0].Kind)

	_, _, err = m.GetForOwner(ctx, other, j.ID)
	require.ErrorIs(t, err, errs.ErrJobNotFound)

	_, err = m.GetStatus(ctx, uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrJobNotFound)
}

func TestJobManager_ListByOwnerPages(t *testing.T) {
	e := newEnv(t)
	m := e.jobManager()
	ctx := context.Background()
	owner, other := e.account(t), e.guest(t)

	created := map[uuid.UUID]bool{}
	for range 5 {
		j, err := m.Create(ctx, uuid.Nil, owner, "documentary", inputAsset())
		require.NoError(t, err)
		created[j.ID] = true
	}
	_, err := m.Create(ctx, uuid.Nil, other, "documentary", inputAsset())
	require.NoError(t, err)

	seen := map[uuid.UUID]bool{}
	cursor := ""
	pages := 0
	for {
		p, err := m.ListByOwner(ctx, owner, 2, cursor)
		require.NoError(t, err)
		pages++
		for i, j := range p.Jobs {
			require.True(t, created[j.ID], "foreign job listed")
			require.False(t, seen[j.ID], "job listed twice")
			seen[j.ID] = true
			if i > 0 {
				require.False(t, j.CreatedAt.After(p.Jobs[i-1].CreatedAt), "not newest first")
			}
		}
		if p.NextCursor == "" {
			break
		}
		cursor = p.NextCursor
	}
	require.Equal(t, 3, pages)
	require.Len(t, seen, 5)

	_, err = m.ListByOwner(ctx, owner, 10, "%%%")
	require.ErrorIs(t, err, errs.ErrValidation)
}
