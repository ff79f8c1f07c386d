package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrEthical07/agencyauth/store"
)

// Append writes one audit row. The table has no UPDATE or DELETE path.
func (s *Store) Append(ctx context.Context, e store.AuditEntry) error {
	var meta []byte
	if len(e.Metadata) > 0 {
		var err error
		meta, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
	}

	query, args, err := s.builder.Insert("audit_log").
		Columns("id", "ts", "subject", "action", "detail", "ip", "user_agent", "success", "error_code", "metadata").
		Values(e.ID, e.Timestamp, e.Subject, e.Action, e.Detail, e.IP, e.UserAgent, e.Success, e.Error, meta).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert audit sql: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}
