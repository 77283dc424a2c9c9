// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationTargetAllowsKind(t *testing.T) {
	t.Parallel()

	all := NotificationTarget{}
	assert.True(t, all.AllowsKind("cycle_report"))

	filtered := NotificationTarget{EventKinds: []string{"overspeed", "cookie_invalid"}}
	assert.True(t, filtered.AllowsKind("overspeed"))
	assert.False(t, filtered.AllowsKind("cycle_report"))
}

func TestNotificationTargetStoreCRUD(t *testing.T) {
	db := newTestDB(t)
	store := NewNotificationTargetStore(db)
	ctx := context.Background()

	target := &NotificationTarget{
		Name:       "ops",
		URL:        "discord://token@channel",
		Enabled:    true,
		EventKinds: []string{"overspeed", "cookie_invalid"},
	}
	require.NoError(t, store.Create(ctx, target))
	assert.Positive(t, target.ID)

	list, err := store.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"overspeed", "cookie_invalid"}, list[0].EventKinds)

	target.Enabled = false
	target.EventKinds = nil
	require.NoError(t, store.Update(ctx, target))

	list, err = store.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = store.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].EventKinds)

	require.NoError(t, store.Delete(ctx, target.ID))
	assert.ErrorIs(t, store.Delete(ctx, target.ID), ErrNotificationTargetNotFound)
}

func TestNotificationTargetStoreRequiresURL(t *testing.T) {
	db := newTestDB(t)
	store := NewNotificationTargetStore(db)

	assert.Error(t, store.Create(context.Background(), &NotificationTarget{Name: "x"}))
}
