package repository

import (
	"context"
	"testing"

	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptOutRepository_BlockedChannels(t *testing.T) {
	db := OpenTestDB(t)
	repo := NewOptOutRepository(db)
	recipients := NewRecipientRepository(db)
	ctx := context.Background()

	rec, err := recipients.Create(ctx, &model.Recipient{Name: "a", Phone: "+15550001", Email: "a@example.com"})
	require.NoError(t, err)

	blocked, err := repo.BlockedChannels(ctx, rec)
	require.NoError(t, err)
	assert.Empty(t, blocked)

	t.Run("by recipient and channel", func(t *testing.T) {
		_, err := repo.Create(ctx, &model.OptOut{RecipientID: &rec.ID, Channel: model.ChannelSMS, Reason: "STOP"})
		require.NoError(t, err)

		blocked, err := repo.BlockedChannels(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, map[model.Channel]bool{model.ChannelSMS: true}, blocked)

		ok, err := repo.IsBlocked(ctx, rec.ID, model.ChannelSMS, rec.Phone)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.IsBlocked(ctx, rec.ID, model.ChannelEmail, rec.Email)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("by address with all", func(t *testing.T) {
		_, err := repo.Create(ctx, &model.OptOut{Channel: model.ChannelAll, Address: "a@example.com"})
		require.NoError(t, err)

		blocked, err := repo.BlockedChannels(ctx, rec)
		require.NoError(t, err)
		assert.True(t, blocked[model.ChannelSMS])
		assert.True(t, blocked[model.ChannelEmail])

		ok, err := repo.IsBlocked(ctx, rec.ID, model.ChannelEmail, rec.Email)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestSettingsRepository(t *testing.T) {
	repo := NewSettingsRepository(OpenTestDB(t))
	ctx := context.Background()

	got, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Save(ctx, &model.Settings{GlobalHourlyLimit: 5, DispatchBatchSize: 10}))
	require.NoError(t, repo.Save(ctx, &model.Settings{GlobalHourlyLimit: 7, DispatchBatchSize: 10}))

	got, err = repo.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 7, got.GlobalHourlyLimit)
	assert.Equal(t, 10, got.DispatchBatchSize)
}
