// Package lifecycle owns the monitoring-case state machine. Every mutation
// goes through ApplyPatch: merge the caller's patch onto the stored body,
// validate the result against the transition graph and business rules, apply
// the side effects the crossed edge demands, then persist body and audit
// record in one transaction guarded by the caller's revision.
package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"caseline/internal/busdate"
	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/repo"
	"caseline/internal/revision"
)

// transitions is the full status graph. Absence means the edge is invalid;
// terminal states have no entry at all.
var transitions = map[domain.Status][]domain.Status{
	domain.StatusDraft:     {domain.StatusActive, domain.StatusCancelled},
	domain.StatusActive:    {domain.StatusAddressed, domain.StatusDeclined, domain.StatusStopped},
	domain.StatusAddressed: {domain.StatusStopped},
	domain.StatusDeclined:  {domain.StatusStopped},
}

// acceleratorRe pulls the test-mode time compression factor out of the
// free-text monitoringDetails field.
var acceleratorRe = regexp.MustCompile(`accelerator=(\d+)`)

// AdmissibilityChecker decides whether the authority may post an
// elimination resolution on the case in its current state.
type AdmissibilityChecker interface {
	CanPostResolution(c domain.Case) error
}

// reportFirstRule is the default policy: a resolution answers an elimination
// report, so the report must exist and the conclusion phase must be over.
type reportFirstRule struct{}

func (reportFirstRule) CanPostResolution(c domain.Case) error {
	if c.Status != domain.StatusAddressed && c.Status != domain.StatusDeclined {
		return ValidationError{Field: "eliminationResolution", Reason: "can only be posted after the conclusion phase"}
	}
	if c.EliminationReport == nil {
		return ValidationError{Field: "eliminationResolution", Reason: "no elimination report to resolve"}
	}
	return nil
}

// Engine wires the case store, the audit trail, the business calendar and
// the deadline configuration behind the two mutation entry points.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Revisions revision.Tracker
	Config    *config.Config
	Calendar  busdate.Calendar
	Check     AdmissibilityChecker

	// Now is injectable for deterministic tests.
	Now func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Revisions: revision.Tracker{},
		Config:    cfg,
		Calendar:  busdate.NewCalendar(cfg.Calendar.Holidays),
		Check:     reportFirstRule{},
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CreateOptions is the caller-supplied part of a new case. Everything else
// (id, publicId, status, restricted, timestamps) is assigned by the engine.
type CreateOptions struct {
	TenderID          string
	Reasons           []string
	Procedure         string
	MonitoringDetails string
	ProcuringEntity   *domain.Party
	Parties           []domain.Party
}

// Create opens a new draft case at revision 1. The restricted flag is fixed
// here from the procuring-entity kind and never changes afterwards.
func (e Engine) Create(ctx context.Context, sc *Scope, opts CreateOptions) (domain.Case, int, error) {
	if opts.TenderID == "" {
		return domain.Case{}, 0, ValidationError{Field: "tenderId", Reason: "required"}
	}
	now := e.now()
	c := domain.Case{
		ID:                uuid.New().String(),
		TenderID:          opts.TenderID,
		Status:            domain.StatusDraft,
		Reasons:           opts.Reasons,
		Procedure:         opts.Procedure,
		MonitoringDetails: opts.MonitoringDetails,
		ProcuringEntity:   opts.ProcuringEntity,
		Parties:           opts.Parties,
		DateCreated:       now.Format(time.RFC3339),
		DateModified:      now.Format(time.RFC3339),
	}
	if opts.ProcuringEntity != nil {
		c.Restricted = e.Config.RestrictedKind(opts.ProcuringEntity.Kind)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, 0, err
	}
	defer tx.Rollback()

	c.PublicID, err = e.Repo.NextPublicID(ctx, tx, now)
	if err != nil {
		return domain.Case{}, 0, err
	}
	if err := e.Repo.Insert(ctx, tx, c, 1); err != nil {
		return domain.Case{}, 0, err
	}
	changes, err := revision.Diff(map[string]any{}, c)
	if err != nil {
		return domain.Case{}, 0, err
	}
	if err := e.Revisions.Append(ctx, tx, c.ID, 1, sc.ActorID, changes); err != nil {
		return domain.Case{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, 0, err
	}
	return c, 1, nil
}

// Get loads a case and its revision. Masking of restricted fields is the
// presentation layer's concern; the engine always returns the full body.
func (e Engine) Get(ctx context.Context, id string) (domain.Case, int, error) {
	return e.Repo.Get(ctx, id)
}

// ApplyPatch merges an RFC 7386 patch onto the case identified by id, checks
// it, runs transition side effects and persists. expectedRev is the revision
// the caller last read; a mismatch means a concurrent writer won and the
// caller gets repo.ErrConflict without any state change.
//
// A patch whose merged result differs from the stored state in nothing but
// dateModified is a no-op: nothing is written, no revision is appended, and
// the current state comes back under the unchanged revision.
func (e Engine) ApplyPatch(ctx context.Context, sc *Scope, id string, patch json.RawMessage, expectedRev int) (domain.Case, int, error) {
	before, rev, err := e.Repo.Get(ctx, id)
	if err != nil {
		return domain.Case{}, 0, err
	}
	if rev != expectedRev {
		return domain.Case{}, 0, repo.ErrConflict
	}
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return domain.Case{}, 0, err
	}
	sc.Case = &before
	sc.Snapshot = beforeJSON
	sc.Revision = rev

	merged, err := jsonpatch.MergePatch(beforeJSON, patch)
	if err != nil {
		return domain.Case{}, 0, ValidationError{Reason: fmt.Sprintf("malformed merge patch: %v", err)}
	}
	var after domain.Case
	if err := json.Unmarshal(merged, &after); err != nil {
		return domain.Case{}, 0, ValidationError{Reason: fmt.Sprintf("patched body does not decode: %v", err)}
	}

	now := e.now()
	if err := e.applyRules(&before, &after, now); err != nil {
		return domain.Case{}, 0, err
	}

	// Probe with dateModified pinned so a patch that changes nothing else
	// does not create a revision.
	probe := after
	probe.DateModified = before.DateModified
	changes, err := revision.Diff(before, probe)
	if err != nil {
		return domain.Case{}, 0, err
	}
	if changes == nil {
		return before, rev, nil
	}

	after.DateModified = now.Format(time.RFC3339)
	changes, err = revision.Diff(before, after)
	if err != nil {
		return domain.Case{}, 0, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, 0, err
	}
	defer tx.Rollback()

	newRev, err := e.Repo.Save(ctx, tx, after, rev)
	if err != nil {
		return domain.Case{}, 0, err
	}
	if err := e.Revisions.Append(ctx, tx, id, newRev, sc.ActorID, changes); err != nil {
		return domain.Case{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, 0, err
	}
	return after, newRev, nil
}

// applyRules validates the merged state against before and mutates after
// with the side effects of whatever edge the patch crossed.
func (e Engine) applyRules(before, after *domain.Case, now time.Time) error {
	if err := checkImmutables(before, after); err != nil {
		return err
	}

	if after.Status != before.Status {
		if !after.Status.Known() {
			return ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", after.Status)}
		}
		if !edgeAllowed(before.Status, after.Status) {
			return InvalidTransitionError{From: before.Status, To: after.Status}
		}
		if err := e.applyTransition(before, after, now); err != nil {
			return err
		}
	}

	if before.EliminationResolution == nil && after.EliminationResolution != nil {
		if err := e.Check.CanPostResolution(*before); err != nil {
			return err
		}
		res := after.EliminationResolution
		if res.DateCreated == "" {
			res.DateCreated = now.Format(time.RFC3339)
		}
		// The resolution is published the moment it was created, even when
		// the record arrives later.
		res.DatePublished = res.DateCreated
	}

	if before.EliminationReport == nil && after.EliminationReport != nil {
		rep := after.EliminationReport
		if rep.DateCreated == "" {
			rep.DateCreated = now.Format(time.RFC3339)
		}
		if rep.DatePublished == "" {
			rep.DatePublished = now.Format(time.RFC3339)
		}
	}

	if before.Appeal == nil && after.Appeal != nil && after.Appeal.DatePublished == "" {
		after.Appeal.DatePublished = now.Format(time.RFC3339)
	}

	stampPosts(after, now)
	return nil
}

// applyTransition runs the side effects of the already-validated edge.
func (e Engine) applyTransition(before, after *domain.Case, now time.Time) error {
	accel := acceleratorFrom(after.MonitoringDetails)
	stamp := now.Format(time.RFC3339)

	switch after.Status {
	case domain.StatusActive:
		if after.Decision == nil {
			return ValidationError{Field: "decision", Reason: "required to activate monitoring"}
		}
		after.Decision.DatePublished = stamp
		end := e.Calendar.Deadline(now, busdate.Days(e.Config.Deadlines.MonitoringWorkingDays), true, accel)
		after.MonitoringPeriod = &domain.Period{StartDate: stamp, EndDate: end.Format(time.RFC3339)}
		after.EndDate = end.Format(time.RFC3339)

	case domain.StatusAddressed:
		if after.Conclusion == nil {
			return ValidationError{Field: "conclusion", Reason: "required to address monitoring"}
		}
		if after.Conclusion.ViolationOccurred == nil || !*after.Conclusion.ViolationOccurred {
			return ValidationError{Field: "conclusion.violationOccurred", Reason: "addressed requires violations"}
		}
		after.Conclusion.DatePublished = stamp
		e.openElimination(after, now, e.Config.Deadlines.EliminationWorkingDays, accel)

	case domain.StatusDeclined:
		if after.Conclusion == nil {
			return ValidationError{Field: "conclusion", Reason: "required to decline monitoring"}
		}
		if after.Conclusion.ViolationOccurred != nil && *after.Conclusion.ViolationOccurred {
			return ValidationError{Field: "conclusion.violationOccurred", Reason: "declined requires no violations"}
		}
		after.Conclusion.DatePublished = stamp
		e.openElimination(after, now, e.Config.Deadlines.EliminationNoViolationsWorkingDays, accel)

	case domain.StatusCancelled, domain.StatusStopped:
		if after.Cancellation == nil {
			return ValidationError{Field: "cancellation", Reason: "required to cancel or stop monitoring"}
		}
		after.Cancellation.DatePublished = stamp
		after.EndDate = stamp
	}
	return nil
}

// openElimination sets the post-conclusion period during which the procuring
// entity may react. The end runs to the close of its final working day.
func (e Engine) openElimination(c *domain.Case, now time.Time, workingDays, accel int) {
	end := e.Calendar.Deadline(now, busdate.Days(workingDays), true, accel)
	if accel == 0 {
		end = busdate.CeilDay(end)
	}
	c.EliminationPeriod = &domain.Period{
		StartDate: now.Format(time.RFC3339),
		EndDate:   end.Format(time.RFC3339),
	}
	c.EndDate = end.Format(time.RFC3339)
}

// checkImmutables rejects patches that touch engine-owned fields. Computed
// periods and one-shot publication stamps can never be hand-edited; the
// transition side effects write them after this check passes.
func checkImmutables(before, after *domain.Case) error {
	after.ID = before.ID
	if after.PublicID != before.PublicID {
		return ValidationError{Field: "publicId", Reason: "immutable"}
	}
	if after.TenderID != before.TenderID {
		return ValidationError{Field: "tenderId", Reason: "immutable"}
	}
	if after.Restricted != before.Restricted {
		return ValidationError{Field: "restricted", Reason: "immutable"}
	}
	if after.DateCreated != before.DateCreated {
		return ValidationError{Field: "dateCreated", Reason: "immutable"}
	}
	if !periodEqual(after.MonitoringPeriod, before.MonitoringPeriod) {
		return ValidationError{Field: "monitoringPeriod", Reason: "computed by the engine"}
	}
	if !periodEqual(after.EliminationPeriod, before.EliminationPeriod) {
		return ValidationError{Field: "eliminationPeriod", Reason: "computed by the engine"}
	}
	if after.EndDate != before.EndDate {
		return ValidationError{Field: "endDate", Reason: "computed by the engine"}
	}

	type stamped struct {
		field         string
		before, after string
		beforeSet     bool
	}
	checks := []stamped{
		{"decision.datePublished", pubDate(before.Decision != nil, func() string { return before.Decision.DatePublished }), pubDate(after.Decision != nil, func() string { return after.Decision.DatePublished }), before.Decision != nil},
		{"conclusion.datePublished", pubDate(before.Conclusion != nil, func() string { return before.Conclusion.DatePublished }), pubDate(after.Conclusion != nil, func() string { return after.Conclusion.DatePublished }), before.Conclusion != nil},
		{"cancellation.datePublished", pubDate(before.Cancellation != nil, func() string { return before.Cancellation.DatePublished }), pubDate(after.Cancellation != nil, func() string { return after.Cancellation.DatePublished }), before.Cancellation != nil},
		{"eliminationResolution.datePublished", pubDate(before.EliminationResolution != nil, func() string { return before.EliminationResolution.DatePublished }), pubDate(after.EliminationResolution != nil, func() string { return after.EliminationResolution.DatePublished }), before.EliminationResolution != nil},
	}
	for _, s := range checks {
		if s.beforeSet && s.before != "" && s.after != s.before {
			return ValidationError{Field: s.field, Reason: "set once by the engine"}
		}
	}
	return nil
}

func pubDate(ok bool, get func() string) string {
	if !ok {
		return ""
	}
	return get()
}

func periodEqual(a, b *domain.Period) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func edgeAllowed(from, to domain.Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// stampPosts assigns ids and publication dates to dialogue entries the patch
// introduced. Existing posts keep theirs.
func stampPosts(c *domain.Case, now time.Time) {
	for i := range c.Posts {
		if c.Posts[i].ID == "" {
			c.Posts[i].ID = uuid.New().String()
		}
		if c.Posts[i].DatePublished == "" {
			c.Posts[i].DatePublished = now.Format(time.RFC3339)
		}
	}
}

// acceleratorFrom parses the time-compression factor out of the free-text
// monitoring details, e.g. "mode=test; accelerator=360". Zero means none.
func acceleratorFrom(details string) int {
	m := acceleratorRe.FindStringSubmatch(details)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
