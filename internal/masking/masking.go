// Package masking redacts restricted case fields from viewers that lack the
// authorization to see them. Both passes are pure tree transforms over the
// decoded JSON document; they never fail, they skip what they cannot match.
package masking

import (
	"strings"

	"caseline/internal/domain"
)

// Replacement sentinels. Localized-English variants (field names ending in
// "_en") get the English sentinel, everything else the Ukrainian one. Exact
// constants keep the pass idempotent.
const (
	MaskValue   = "Приховано"
	MaskValueEN = "Hidden"
)

// caseMaskPaths is the declarative mapping for monitoring cases: every path
// names a leaf that must be hidden on restricted cases. "[*]" fans out over
// each element of an ordered sequence.
var caseMaskPaths = []string{
	"decision.description",
	"decision.description_en",
	"decision.documents[*].title",
	"decision.documents[*].title_en",
	"decision.documents[*].url",
	"conclusion.description",
	"conclusion.description_en",
	"conclusion.auditFinding",
	"conclusion.stringsAttached",
	"conclusion.documents[*].title",
	"conclusion.documents[*].title_en",
	"conclusion.documents[*].url",
	"cancellation.description",
	"cancellation.documents[*].title",
	"cancellation.documents[*].url",
	"eliminationReport.description",
	"eliminationReport.documents[*].title",
	"eliminationReport.documents[*].url",
	"eliminationResolution.description",
	"eliminationResolution.documents[*].title",
	"eliminationResolution.documents[*].url",
	"appeal.description",
	"appeal.documents[*].title",
	"appeal.documents[*].url",
	"posts[*].title",
	"posts[*].description",
	"posts[*].documents[*].title",
	"posts[*].documents[*].title_en",
	"posts[*].documents[*].url",
	"parties[*].name",
	"parties[*].identifier.legalName",
}

type step struct {
	field    string
	wildcard bool
}

// compiled once at package init; the mapping is process-wide constant state.
var caseMaskSteps = compileAll(caseMaskPaths)

func compileAll(paths []string) [][]step {
	out := make([][]step, 0, len(paths))
	for _, p := range paths {
		out = append(out, compile(p))
	}
	return out
}

func compile(path string) []step {
	var steps []step
	for _, part := range strings.Split(path, ".") {
		if strings.HasSuffix(part, "[*]") {
			steps = append(steps, step{field: strings.TrimSuffix(part, "[*]")})
			steps = append(steps, step{wildcard: true})
			continue
		}
		steps = append(steps, step{field: part})
	}
	return steps
}

// Apply redacts doc in place for the given viewer. It is a no-op when the
// case is not restricted, when the role is an internal one, or when a broker
// holds the restricted-data accreditation.
func Apply(doc map[string]any, restricted bool, role domain.Role, hasRestrictedAccess bool) map[string]any {
	if !restricted {
		return doc
	}
	if role == domain.RoleSAS || role == domain.RoleAdmins {
		return doc
	}
	if role == domain.RoleBrokers && hasRestrictedAccess {
		return doc
	}
	for _, steps := range caseMaskSteps {
		maskPath(doc, steps)
	}
	return doc
}

func maskPath(node any, steps []step) {
	if len(steps) == 0 {
		return
	}
	s := steps[0]
	if s.wildcard {
		seq, ok := node.([]any)
		if !ok {
			return
		}
		for _, el := range seq {
			maskPath(el, steps[1:])
		}
		return
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return
	}
	if len(steps) == 1 {
		if _, present := obj[s.field]; !present {
			return
		}
		if _, isString := obj[s.field].(string); !isString {
			return
		}
		obj[s.field] = sentinelFor(s.field)
		return
	}
	child, ok := obj[s.field]
	if !ok {
		return
	}
	maskPath(child, steps[1:])
}

func sentinelFor(field string) string {
	if strings.HasSuffix(field, "_en") {
		return MaskValueEN
	}
	return MaskValue
}
