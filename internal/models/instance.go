// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/autobrr/cruise/internal/crypto"
	"github.com/autobrr/cruise/internal/dbinterface"
)

var ErrInstanceNotFound = errors.New("instance not found")

// Instance is one supervised qBittorrent endpoint.
type Instance struct {
	ID            int     `json:"id"`
	Name          string  `json:"name"`
	Host          string  `json:"host"`
	Username      string  `json:"username"`
	Password      string  `json:"-"`
	BasicUsername *string `json:"basicUsername,omitempty"`
	BasicPassword *string `json:"-"`
	TLSSkipVerify bool    `json:"tlsSkipVerify"`
	Enabled       bool    `json:"enabled"`
}

// InstanceStore persists instances. With an encryptor configured the
// password columns hold AES-GCM ciphertext.
type InstanceStore struct {
	db        dbinterface.Querier
	encryptor *crypto.AESEncryptor
}

func NewInstanceStore(db dbinterface.Querier, encryptor *crypto.AESEncryptor) *InstanceStore {
	return &InstanceStore{db: db, encryptor: encryptor}
}

func validateInstanceHost(host string) error {
	u, err := url.Parse(host)
	if err != nil {
		return fmt.Errorf("invalid host %q: %w", host, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid host %q: scheme must be http or https", host)
	}
	return nil
}

func (s *InstanceStore) encrypt(plain string) (string, error) {
	if s.encryptor == nil || plain == "" {
		return plain, nil
	}
	return s.encryptor.Encrypt(plain)
}

func (s *InstanceStore) decrypt(stored string) (string, error) {
	if s.encryptor == nil || stored == "" {
		return stored, nil
	}
	return s.encryptor.Decrypt(stored)
}

func (s *InstanceStore) encryptOptional(plain *string) (*string, error) {
	if plain == nil {
		return nil, nil
	}
	enc, err := s.encrypt(*plain)
	if err != nil {
		return nil, err
	}
	return &enc, nil
}

func (s *InstanceStore) Create(ctx context.Context, instance *Instance) error {
	if strings.TrimSpace(instance.Name) == "" {
		return errors.New("instance name is required")
	}
	if err := validateInstanceHost(instance.Host); err != nil {
		return err
	}

	password, err := s.encrypt(instance.Password)
	if err != nil {
		return fmt.Errorf("encrypt password: %w", err)
	}
	basicPassword, err := s.encryptOptional(instance.BasicPassword)
	if err != nil {
		return fmt.Errorf("encrypt basic password: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (name, host, username, password, basic_username, basic_password, tls_skip_verify, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, instance.Name, instance.Host, instance.Username, password,
		instance.BasicUsername, basicPassword, instance.TLSSkipVerify, instance.Enabled)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("instance id: %w", err)
	}
	instance.ID = int(id)
	return nil
}

func (s *InstanceStore) Update(ctx context.Context, instance *Instance) error {
	if err := validateInstanceHost(instance.Host); err != nil {
		return err
	}

	password, err := s.encrypt(instance.Password)
	if err != nil {
		return fmt.Errorf("encrypt password: %w", err)
	}
	basicPassword, err := s.encryptOptional(instance.BasicPassword)
	if err != nil {
		return fmt.Errorf("encrypt basic password: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE instances
		SET name = ?, host = ?, username = ?, password = ?, basic_username = ?,
		    basic_password = ?, tls_skip_verify = ?, enabled = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, instance.Name, instance.Host, instance.Username, password,
		instance.BasicUsername, basicPassword, instance.TLSSkipVerify,
		instance.Enabled, instance.ID)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

func (s *InstanceStore) Delete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM instances WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

func (s *InstanceStore) Get(ctx context.Context, id int) (*Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, host, username, password, basic_username, basic_password, tls_skip_verify, enabled
		FROM instances WHERE id = ?
	`, id)
	return s.scanInstance(row)
}

// List returns all instances; enabledOnly restricts to those the engine
// should connect to.
func (s *InstanceStore) List(ctx context.Context, enabledOnly bool) ([]*Instance, error) {
	query := `
		SELECT id, name, host, username, password, basic_username, basic_password, tls_skip_verify, enabled
		FROM instances
	`
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var instances []*Instance
	for rows.Next() {
		instance, err := s.scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *InstanceStore) scanInstance(row rowScanner) (*Instance, error) {
	var instance Instance
	var basicUser, basicPass sql.NullString

	err := row.Scan(&instance.ID, &instance.Name, &instance.Host, &instance.Username,
		&instance.Password, &basicUser, &basicPass, &instance.TLSSkipVerify, &instance.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan instance: %w", err)
	}

	if instance.Password, err = s.decrypt(instance.Password); err != nil {
		return nil, fmt.Errorf("decrypt password for instance %d: %w", instance.ID, err)
	}

	if basicUser.Valid {
		instance.BasicUsername = &basicUser.String
	}
	if basicPass.Valid {
		pass, err := s.decrypt(basicPass.String)
		if err != nil {
			return nil, fmt.Errorf("decrypt basic password for instance %d: %w", instance.ID, err)
		}
		instance.BasicPassword = &pass
	}
	return &instance, nil
}
