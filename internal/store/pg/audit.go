package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"sellergate.io/internal/audit"
)

// Append writes one entry outside a command transaction.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	return insertEntry(ctx, s.db, entry)
}

func insertEntry(ctx context.Context, ex execer, e audit.Entry) error {
	if err := e.Prepare(); err != nil {
		return err
	}
	var meta []byte
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		meta = b
	}
	_, err := ex.ExecContext(ctx, `
		insert into authorization_audit_log
			(id, authorization_id, action, actor_id, actor_role, status_from, status_to, reason, metadata, request_id, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, e.ID, e.AuthorizationID, string(e.Action), e.ActorID, e.ActorRole, e.StatusFrom, e.StatusTo,
		e.Reason, meta, e.RequestID, e.Timestamp.UTC())
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return audit.ErrDuplicate
	}
	return err
}

func (s *Store) ListByAuthorization(ctx context.Context, authorizationID string) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, authorization_id, action, actor_id, actor_role, status_from, status_to, reason, metadata, request_id, created_at
		from authorization_audit_log
		where authorization_id = $1
		order by created_at asc, id asc
	`, authorizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []audit.Entry{}
	for rows.Next() {
		var e audit.Entry
		var action string
		var meta []byte
		if err := rows.Scan(&e.ID, &e.AuthorizationID, &action, &e.ActorID, &e.ActorRole, &e.StatusFrom, &e.StatusTo,
			&e.Reason, &meta, &e.RequestID, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Action = audit.Action(action)
		e.Timestamp = e.Timestamp.UTC()
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata for %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
