// Package revision produces the append-only audit trail: one immutable
// record per accepted mutation, holding the structural diff between the
// pre-request snapshot and the persisted state.
package revision

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wI2L/jsondiff"
)

// Tracker appends revision records inside the caller's transaction so the
// case row and its audit entry commit or roll back together.
type Tracker struct {
	Now func() time.Time
}

// Diff computes the add/remove/replace operations turning before into after.
// A nil result means the two states are identical and nothing should be
// persisted.
func Diff(before, after any) (json.RawMessage, error) {
	patch, err := jsondiff.Compare(before, after)
	if err != nil {
		return nil, fmt.Errorf("diff case states: %w", err)
	}
	if len(patch) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshal diff: %w", err)
	}
	return data, nil
}

// Append writes one revision record. Records are never updated or deleted;
// (case_id, rev) is the primary key, so a duplicate rev fails the tx.
func (t Tracker) Append(ctx context.Context, tx *sql.Tx, caseID string, rev int, author string, changes json.RawMessage) error {
	if t.Now == nil {
		t.Now = time.Now
	}
	date := t.Now().UTC().Format(time.RFC3339)
	if len(changes) == 0 {
		return fmt.Errorf("refusing to append empty revision for case %s", caseID)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO case_revisions(case_id,rev,author,changes,date) VALUES (?,?,?,?,?)`,
		caseID, rev, author, string(changes), date)
	if err != nil {
		return fmt.Errorf("append revision %d for case %s: %w", rev, caseID, err)
	}
	return nil
}
