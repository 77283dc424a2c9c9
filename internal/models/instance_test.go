// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/cruise/internal/crypto"
)

func TestInstanceStoreCRUD(t *testing.T) {
	db := newTestDB(t)
	store := NewInstanceStore(db, nil)
	ctx := context.Background()

	instance := &Instance{
		Name:     "seedbox",
		Host:     "http://localhost:8080",
		Username: "admin",
		Password: "adminadmin",
		Enabled:  true,
	}
	require.NoError(t, store.Create(ctx, instance))
	assert.Positive(t, instance.ID)

	got, err := store.Get(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "seedbox", got.Name)
	assert.Equal(t, "adminadmin", got.Password)
	assert.Nil(t, got.BasicPassword)

	got.Name = "seedbox-2"
	got.Enabled = false
	require.NoError(t, store.Update(ctx, got))

	list, err := store.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = store.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "seedbox-2", list[0].Name)

	require.NoError(t, store.Delete(ctx, instance.ID))
	_, err = store.Get(ctx, instance.ID)
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestInstanceStoreEncryptsPasswordsAtRest(t *testing.T) {
	db := newTestDB(t)
	encryptor, err := crypto.NewAESEncryptor("test passphrase")
	require.NoError(t, err)
	store := NewInstanceStore(db, encryptor)
	ctx := context.Background()

	basicPass := "basic-secret"
	instance := &Instance{
		Name:          "seedbox",
		Host:          "https://qbit.example.com",
		Username:      "admin",
		Password:      "super-secret",
		BasicPassword: &basicPass,
		Enabled:       true,
	}
	require.NoError(t, store.Create(ctx, instance))

	// The raw columns must not contain the plaintext.
	var storedPass, storedBasic string
	row := db.QueryRowContext(ctx, "SELECT password, basic_password FROM instances WHERE id = ?", instance.ID)
	require.NoError(t, row.Scan(&storedPass, &storedBasic))
	assert.NotEqual(t, "super-secret", storedPass)
	assert.NotEqual(t, "basic-secret", storedBasic)

	got, err := store.Get(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "super-secret", got.Password)
	require.NotNil(t, got.BasicPassword)
	assert.Equal(t, "basic-secret", *got.BasicPassword)
}

func TestInstanceStoreValidatesHost(t *testing.T) {
	db := newTestDB(t)
	store := NewInstanceStore(db, nil)
	ctx := context.Background()

	for _, host := range []string{"ftp://example.com", "localhost:8080", ""} {
		err := store.Create(ctx, &Instance{Name: "x", Host: host})
		assert.Error(t, err, "host %q", host)
	}
}

func TestInstanceStoreNotFound(t *testing.T) {
	db := newTestDB(t)
	store := NewInstanceStore(db, nil)
	ctx := context.Background()

	assert.ErrorIs(t, store.Delete(ctx, 42), ErrInstanceNotFound)
	assert.ErrorIs(t, store.Update(ctx, &Instance{ID: 42, Host: "http://x"}), ErrInstanceNotFound)
}
