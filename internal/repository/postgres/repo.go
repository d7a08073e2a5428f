// Package postgres implements the mailing list repository on PostgreSQL.
// Every row carries a version column; writes compare it in the WHERE clause
// and report a lost race as domain.ErrConflict.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/listserv/internal/domain"
)

// Repo implements mailinglist.Repository against PostgreSQL.
type Repo struct{ db *sql.DB }

// NewRepo creates a Postgres-backed repository.
func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}

func (r *Repo) GetList(ctx context.Context, address string) (*domain.List, error) {
	var (
		l   domain.List
		cfg []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT address, owner, moderators, config, version, created_at, updated_at
		FROM listserv_lists WHERE address = $1
	`, address).Scan(&l.Address, &l.Owner, pq.Array(&l.Moderators), &cfg, &l.Version, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: list %s", domain.ErrRecordNotFound, address)
	}
	if err != nil {
		return nil, unavailable("get list", err)
	}
	if err := json.Unmarshal(cfg, &l.Config); err != nil {
		return nil, fmt.Errorf("decode config for %s: %w", address, err)
	}
	return &l, nil
}

func (r *Repo) CreateList(ctx context.Context, l *domain.List) error {
	cfg, err := encodeMap(l.Config)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO listserv_lists (address, owner, moderators, config, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $6)
		ON CONFLICT (address) DO NOTHING
	`, l.Address, l.Owner, pq.Array(l.Moderators), cfg, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return unavailable("create list", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: list %s exists", domain.ErrConflict, l.Address)
	}
	l.Version = 1
	return nil
}

func (r *Repo) UpdateList(ctx context.Context, l *domain.List, expectedVersion int64) error {
	cfg, err := encodeMap(l.Config)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE listserv_lists
		SET owner = $2, moderators = $3, config = $4, version = version + 1, updated_at = $5
		WHERE address = $1 AND version = $6
	`, l.Address, l.Owner, pq.Array(l.Moderators), cfg, l.UpdatedAt, expectedVersion)
	if err != nil {
		return unavailable("update list", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: list %s version %d", domain.ErrConflict, l.Address, expectedVersion)
	}
	l.Version = expectedVersion + 1
	return nil
}

func (r *Repo) ListAddresses(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT address FROM listserv_lists ORDER BY address`)
	if err != nil {
		return nil, unavailable("list addresses", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, unavailable("scan list address", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list addresses", err)
	}
	return out, nil
}

const membershipColumns = `list_address, address, state, flags, version, created_at, updated_at`

type scanner interface{ Scan(dest ...any) error }

func scanMembership(s scanner) (*domain.Membership, error) {
	var (
		m     domain.Membership
		flags []byte
	)
	if err := s.Scan(&m.ListAddress, &m.Address, &m.State, &flags, &m.Version, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(flags, &m.Flags); err != nil {
		return nil, fmt.Errorf("decode flags for %s: %w", m.Address, err)
	}
	return &m, nil
}

func (r *Repo) GetMembership(ctx context.Context, listAddress, address string) (*domain.Membership, error) {
	m, err := scanMembership(r.db.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM listserv_memberships WHERE list_address = $1 AND address = $2`,
		listAddress, address,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: membership %s/%s", domain.ErrRecordNotFound, listAddress, address)
	}
	if err != nil {
		return nil, unavailable("get membership", err)
	}
	return m, nil
}

func (r *Repo) PutMembership(ctx context.Context, m *domain.Membership, expectedVersion int64) error {
	flags, err := encodeMap(m.Flags)
	if err != nil {
		return err
	}
	var res sql.Result
	if expectedVersion == 0 {
		res, err = r.db.ExecContext(ctx, `
			INSERT INTO listserv_memberships (`+membershipColumns+`)
			VALUES ($1, $2, $3, $4, 1, $5, $6)
			ON CONFLICT (list_address, address) DO NOTHING
		`, m.ListAddress, m.Address, m.State, flags, m.CreatedAt, m.UpdatedAt)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE listserv_memberships
			SET state = $3, flags = $4, version = version + 1, updated_at = $5
			WHERE list_address = $1 AND address = $2 AND version = $6
		`, m.ListAddress, m.Address, m.State, flags, m.UpdatedAt, expectedVersion)
	}
	if err != nil {
		return unavailable("put membership", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: membership %s/%s version %d", domain.ErrConflict, m.ListAddress, m.Address, expectedVersion)
	}
	m.Version = expectedVersion + 1
	return nil
}

func (r *Repo) DeleteMembership(ctx context.Context, listAddress, address string, expectedVersion int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM listserv_memberships WHERE list_address = $1 AND address = $2 AND version = $3`,
		listAddress, address, expectedVersion,
	)
	if err != nil {
		return unavailable("delete membership", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: membership %s/%s version %d", domain.ErrConflict, listAddress, address, expectedVersion)
	}
	return nil
}

func (r *Repo) Memberships(ctx context.Context, listAddress string, state domain.MembershipState) ([]domain.Membership, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+membershipColumns+` FROM listserv_memberships WHERE list_address = $1 AND state = $2 ORDER BY address`,
		listAddress, state,
	)
	if err != nil {
		return nil, unavailable("list memberships", err)
	}
	defer rows.Close()

	var out []domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, unavailable("scan membership", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list memberships", err)
	}
	return out, nil
}

func (r *Repo) HoldMessage(ctx context.Context, m *domain.ModeratedMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO listserv_held_messages (list_address, id, sender, subject, object_key, reason, held_at, recipients)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (list_address, id) DO NOTHING
	`, m.ListAddress, m.ID, m.Sender, m.Subject, m.ObjectKey, m.Reason, m.HeldAt, pq.Array(nonNil(m.Recipients)))
	if err != nil {
		return unavailable("hold message", err)
	}
	return nil
}

func (r *Repo) TakeHeldMessage(ctx context.Context, listAddress, id string) (*domain.ModeratedMessage, error) {
	var m domain.ModeratedMessage
	err := r.db.QueryRowContext(ctx, `
		DELETE FROM listserv_held_messages WHERE list_address = $1 AND id = $2
		RETURNING list_address, id, sender, subject, object_key, reason, held_at, recipients
	`, listAddress, id).Scan(&m.ListAddress, &m.ID, &m.Sender, &m.Subject, &m.ObjectKey, &m.Reason, &m.HeldAt, pq.Array(&m.Recipients))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: held message %s", domain.ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, unavailable("take held message", err)
	}
	return &m, nil
}

func (r *Repo) HeldMessages(ctx context.Context, listAddress string) ([]domain.ModeratedMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT list_address, id, sender, subject, object_key, reason, held_at, recipients
		FROM listserv_held_messages WHERE list_address = $1
		ORDER BY held_at, id
	`, listAddress)
	if err != nil {
		return nil, unavailable("list held messages", err)
	}
	defer rows.Close()

	var out []domain.ModeratedMessage
	for rows.Next() {
		var m domain.ModeratedMessage
		if err := rows.Scan(&m.ListAddress, &m.ID, &m.Sender, &m.Subject, &m.ObjectKey, &m.Reason, &m.HeldAt, pq.Array(&m.Recipients)); err != nil {
			return nil, unavailable("scan held message", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list held messages", err)
	}
	return out, nil
}

// nonNil keeps the NOT NULL array column from receiving NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func encodeMap[M ~map[string]V, V any](m M) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return b, nil
}

