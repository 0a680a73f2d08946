package server

import (
	"encoding/json"
	"fmt"
	"strings"

	"caseline/internal/domain"
	"caseline/internal/masking"
	"caseline/internal/repo"
)

// CreateCaseRequest is the caller-supplied seed of a new monitoring. The
// engine fills in everything else.
type CreateCaseRequest struct {
	TenderID          string         `json:"tenderId" example:"f9f2e8c4a2d94bb"`
	Reasons           []string       `json:"reasons,omitempty"`
	Procedure         string         `json:"procedure,omitempty"`
	MonitoringDetails string         `json:"monitoringDetails,omitempty"`
	ProcuringEntity   *domain.Party  `json:"procuringEntity,omitempty"`
	Parties           []domain.Party `json:"parties,omitempty"`
}

// PatchCaseRequest carries an RFC 7386 merge patch verbatim; the handler
// never interprets it.
type PatchCaseRequest = json.RawMessage

type paginatedCases struct {
	Items      []map[string]any `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type revisionResponse struct {
	Rev     int             `json:"rev"`
	Author  string          `json:"author"`
	Date    string          `json:"date"`
	Changes json.RawMessage `json:"changes"`
}

func revisionResponseOf(rec domain.RevisionRecord) revisionResponse {
	return revisionResponse{
		Rev:     rec.Rev,
		Author:  rec.Author,
		Date:    rec.Date,
		Changes: json.RawMessage(rec.Changes),
	}
}

// caseDoc renders a case the way wire clients see it, through its JSON tags.
func caseDoc(c domain.Case) (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// presentCase builds the viewer-specific representation: the deprecated
// whole-tree pass for migrated records first, then restricted-field masking,
// with the revision counter attached.
func presentCase(c domain.Case, rev int, p Principal) (map[string]any, error) {
	doc, err := caseDoc(c)
	if err != nil {
		return nil, fmt.Errorf("render case %s: %w", c.ID, err)
	}
	if c.LegacyMasked {
		doc = masking.LegacyMask(doc)
	}
	hasAccess := false
	for _, a := range p.Accreditations {
		if a == domain.RestrictedDataAccreditation {
			hasAccess = true
		}
	}
	doc = masking.Apply(doc, c.Restricted, p.Role, hasAccess)
	doc["revision"] = rev
	return doc, nil
}

func mapCases(items []repo.ListedCase, p Principal) ([]map[string]any, error) {
	res := make([]map[string]any, 0, len(items))
	for _, it := range items {
		doc, err := presentCase(it.Case, it.Revision, p)
		if err != nil {
			return nil, err
		}
		res = append(res, doc)
	}
	return res, nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
