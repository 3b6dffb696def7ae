package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"sellergate.io/internal/audit"
	"sellergate.io/internal/authz"
)

const recordColumns = `id, seller_id, product_id, supplier_id, status, requested_at,
	approved_at, approved_by, rejected_at, rejected_by, rejection_reason, cooldown_until, rejection_count,
	revoked_at, revoked_by, revocation_reason, cancelled_at, metadata, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (authz.Record, error) {
	var rec authz.Record
	var status string
	var approvedAt, rejectedAt, cooldown, revokedAt, cancelledAt sql.NullTime
	var meta []byte
	if err := row.Scan(&rec.ID, &rec.SellerID, &rec.ProductID, &rec.SupplierID, &status, &rec.RequestedAt,
		&approvedAt, &rec.ApprovedBy, &rejectedAt, &rec.RejectedBy, &rec.RejectionReason, &cooldown, &rec.RejectionCount,
		&revokedAt, &rec.RevokedBy, &rec.RevocationReason, &cancelledAt, &meta, &rec.UpdatedAt); err != nil {
		return authz.Record{}, err
	}
	rec.Status = authz.Status(status)
	rec.RequestedAt = rec.RequestedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	rec.ApprovedAt = timeOrNil(approvedAt)
	rec.RejectedAt = timeOrNil(rejectedAt)
	rec.CooldownUntil = timeOrNil(cooldown)
	rec.RevokedAt = timeOrNil(revokedAt)
	rec.CancelledAt = timeOrNil(cancelledAt)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return authz.Record{}, fmt.Errorf("decode metadata for %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}

func (s *Store) Get(ctx context.Context, id string) (authz.Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		`select `+recordColumns+` from seller_product_authorizations where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Record{}, authz.ErrNotFound
	}
	return rec, err
}

func (s *Store) FindByPair(ctx context.Context, sellerID, productID string) (authz.Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		`select `+recordColumns+` from seller_product_authorizations where seller_id = $1 and product_id = $2`,
		sellerID, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Record{}, authz.ErrNotFound
	}
	return rec, err
}

func (s *Store) CountApproved(ctx context.Context, sellerID string) (int, error) {
	return countApproved(ctx, s.db, sellerID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func countApproved(ctx context.Context, q queryRower, sellerID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		select count(*) from seller_product_authorizations
		where seller_id = $1 and status = 'approved'
	`, sellerID).Scan(&n)
	return n, err
}

func (s *Store) ListRejected(ctx context.Context, sellerID string) ([]authz.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+recordColumns+` from seller_product_authorizations
		where seller_id = $1 and status = 'rejected'
		order by cooldown_until asc nulls last, id asc`, sellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []authz.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Mutate runs fn in a transaction holding the seller's advisory lock and the
// record's row lock, then writes the record and its audit entry.
func (s *Store) Mutate(ctx context.Context, target authz.Target, fn authz.MutateFunc) (authz.Record, audit.Entry, error) {
	sellerID := target.SellerID
	if target.ID != "" {
		err := s.db.QueryRowContext(ctx, `select seller_id from seller_product_authorizations where id = $1`, target.ID).Scan(&sellerID)
		if errors.Is(err, sql.ErrNoRows) {
			return fn(nil, 0)
		}
		if err != nil {
			return authz.Record{}, audit.Entry{}, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return authz.Record{}, audit.Entry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtext($1))`, sellerID); err != nil {
		return authz.Record{}, audit.Entry{}, fmt.Errorf("lock seller: %w", err)
	}

	var row *sql.Row
	if target.ID != "" {
		row = tx.QueryRowContext(ctx,
			`select `+recordColumns+` from seller_product_authorizations where id = $1 for update`, target.ID)
	} else {
		row = tx.QueryRowContext(ctx,
			`select `+recordColumns+` from seller_product_authorizations where seller_id = $1 and product_id = $2 for update`,
			target.SellerID, target.ProductID)
	}
	var current *authz.Record
	rec, err := scanRecord(row)
	switch {
	case err == nil:
		current = &rec
	case !errors.Is(err, sql.ErrNoRows):
		return authz.Record{}, audit.Entry{}, err
	}

	approved, err := countApproved(ctx, tx, sellerID)
	if err != nil {
		return authz.Record{}, audit.Entry{}, err
	}

	next, entry, err := fn(current, approved)
	if err != nil {
		return authz.Record{}, audit.Entry{}, err
	}
	if err := upsertRecord(ctx, tx, next); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation && pgErr.ConstraintName == pairConstraint {
			return authz.Record{}, audit.Entry{}, authz.ErrAlreadyRequested
		}
		return authz.Record{}, audit.Entry{}, err
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		return authz.Record{}, audit.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return authz.Record{}, audit.Entry{}, err
	}
	return next, entry, nil
}

func upsertRecord(ctx context.Context, ex execer, rec authz.Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
		insert into seller_product_authorizations (`+recordColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		on conflict (id) do update set
			supplier_id = excluded.supplier_id,
			status = excluded.status,
			requested_at = excluded.requested_at,
			approved_at = excluded.approved_at,
			approved_by = excluded.approved_by,
			rejected_at = excluded.rejected_at,
			rejected_by = excluded.rejected_by,
			rejection_reason = excluded.rejection_reason,
			cooldown_until = excluded.cooldown_until,
			rejection_count = excluded.rejection_count,
			revoked_at = excluded.revoked_at,
			revoked_by = excluded.revoked_by,
			revocation_reason = excluded.revocation_reason,
			cancelled_at = excluded.cancelled_at,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, rec.ID, rec.SellerID, rec.ProductID, rec.SupplierID, string(rec.Status), rec.RequestedAt.UTC(),
		nullTime(rec.ApprovedAt), rec.ApprovedBy, nullTime(rec.RejectedAt), rec.RejectedBy, rec.RejectionReason,
		nullTime(rec.CooldownUntil), rec.RejectionCount,
		nullTime(rec.RevokedAt), rec.RevokedBy, rec.RevocationReason, nullTime(rec.CancelledAt),
		meta, rec.UpdatedAt.UTC())
	return err
}

// HasApproved reports whether the pair has an approved record.
func (s *Store) HasApproved(ctx context.Context, sellerID, productID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1 from seller_product_authorizations
			where seller_id = $1 and product_id = $2 and status = 'approved'
		)
	`, sellerID, productID).Scan(&ok)
	return ok, err
}

// ApprovedAmong answers for all productIDs in one query.
func (s *Store) ApprovedAmong(ctx context.Context, sellerID string, productIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select product_id from seller_product_authorizations
		where seller_id = $1 and status = 'approved' and product_id = any($2)
	`, sellerID, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var pid string
		if err := rows.Scan(&pid); err != nil {
			return nil, err
		}
		out[pid] = true
	}
	return out, rows.Err()
}

// ApprovedProducts lists every approved product of the seller.
func (s *Store) ApprovedProducts(ctx context.Context, sellerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select product_id from seller_product_authorizations
		where seller_id = $1 and status = 'approved'
		order by product_id asc
	`, sellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var pid string
		if err := rows.Scan(&pid); err != nil {
			return nil, err
		}
		out = append(out, pid)
	}
	return out, rows.Err()
}
