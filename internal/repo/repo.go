package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"caseline/internal/domain"
)

// Repo is the case store: load by id, optimistic-concurrency save, filtered
// cursor-paginated list. Each case row carries the serialized body plus the
// columns queries filter on.
type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a save presents a stale revision. The
	// caller must reload and resubmit; the store never retries.
	ErrConflict = errors.New("revision conflict")
)

// Insert stores a freshly created case at the given revision.
func (r Repo) Insert(ctx context.Context, tx *sql.Tx, c domain.Case, rev int) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal case: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO cases(id,public_id,status,restricted,revision,body,date_created,date_modified) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, nullable(c.PublicID), string(c.Status), boolInt(c.Restricted), rev, string(body), c.DateCreated, c.DateModified)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

// Get loads a case and the revision the returned state corresponds to.
func (r Repo) Get(ctx context.Context, id string) (domain.Case, int, error) {
	var body string
	var rev int
	err := r.DB.QueryRowContext(ctx, `SELECT body, revision FROM cases WHERE id=?`, id).Scan(&body, &rev)
	if err == sql.ErrNoRows {
		return domain.Case{}, 0, ErrNotFound
	}
	if err != nil {
		return domain.Case{}, 0, err
	}
	var c domain.Case
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return domain.Case{}, 0, fmt.Errorf("decode case %s: %w", id, err)
	}
	return c, rev, nil
}

// Save persists a mutated case guarded by the revision the writer last read.
// On success the stored revision advances to expectedRev+1 and is returned.
// A stale expectedRev yields ErrConflict and writes nothing.
func (r Repo) Save(ctx context.Context, tx *sql.Tx, c domain.Case, expectedRev int) (int, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return 0, fmt.Errorf("marshal case: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE cases SET status=?, body=?, revision=revision+1, date_modified=? WHERE id=? AND revision=?`,
		string(c.Status), string(body), c.DateModified, c.ID, expectedRev)
	if err != nil {
		return 0, fmt.Errorf("save case %s: %w", c.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM cases WHERE id=?`, c.ID).Scan(&exists); err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, ErrConflict
	}
	return expectedRev + 1, nil
}

// CaseFilters narrow a listing. Cursor fields come from the previous page's
// last item (date_modified, id), newest first.
type CaseFilters struct {
	Status         string
	Restricted     *bool
	Limit          int
	CursorModified string
	CursorID       string
}

// ListedCase pairs a case with its stored revision for listing responses.
type ListedCase struct {
	Case     domain.Case
	Revision int
}

func (r Repo) List(ctx context.Context, f CaseFilters) ([]ListedCase, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Restricted != nil {
		clauses = append(clauses, "restricted=?")
		args = append(args, boolInt(*f.Restricted))
	}
	if f.CursorModified != "" && f.CursorID != "" {
		clauses = append(clauses, "(date_modified < ? OR (date_modified = ? AND id < ?))")
		args = append(args, f.CursorModified, f.CursorModified, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT body, revision FROM cases ` + where + ` ORDER BY date_modified DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ListedCase
	for rows.Next() {
		var body string
		var rev int
		if err := rows.Scan(&body, &rev); err != nil {
			return nil, err
		}
		var c domain.Case
		if err := json.Unmarshal([]byte(body), &c); err != nil {
			return nil, fmt.Errorf("decode listed case: %w", err)
		}
		res = append(res, ListedCase{Case: c, Revision: rev})
	}
	return res, rows.Err()
}

// NextPublicID allocates the next human-readable identifier for the day,
// e.g. UA-M-2018-01-02-000001. Counters reset per calendar day.
func (r Repo) NextPublicID(ctx context.Context, tx *sql.Tx, now time.Time) (string, error) {
	day := now.Format("2006-01-02")
	if _, err := tx.ExecContext(ctx, `INSERT INTO public_id_seq(day,counter) VALUES (?,0)
ON CONFLICT(day) DO NOTHING`, day); err != nil {
		return "", err
	}
	var counter int
	err := tx.QueryRowContext(ctx, `UPDATE public_id_seq SET counter=counter+1 WHERE day=? RETURNING counter`, day).Scan(&counter)
	if err != nil {
		return "", fmt.Errorf("advance public id sequence: %w", err)
	}
	return fmt.Sprintf("UA-M-%s-%06d", day, counter), nil
}

// ListRevisions returns the full audit trail for a case, oldest first.
func (r Repo) ListRevisions(ctx context.Context, caseID string) ([]domain.RevisionRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT rev,author,changes,date FROM case_revisions WHERE case_id=? ORDER BY rev ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RevisionRecord
	for rows.Next() {
		var rec domain.RevisionRecord
		if err := rows.Scan(&rec.Rev, &rec.Author, &rec.Changes, &rec.Date); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// GetRevision returns one audit-trail entry.
func (r Repo) GetRevision(ctx context.Context, caseID string, rev int) (domain.RevisionRecord, error) {
	var rec domain.RevisionRecord
	err := r.DB.QueryRowContext(ctx, `SELECT rev,author,changes,date FROM case_revisions WHERE case_id=? AND rev=?`, caseID, rev).
		Scan(&rec.Rev, &rec.Author, &rec.Changes, &rec.Date)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	return rec, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
