package domain

// Status of a monitoring case. Transitions follow a fixed directed graph
// owned by the lifecycle engine; stopped and cancelled are terminal.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusAddressed Status = "addressed"
	StatusDeclined  Status = "declined"
	StatusStopped   Status = "stopped"
	StatusCancelled Status = "cancelled"
)

// Role of the viewer or actor interacting with a case.
type Role string

const (
	// RoleSAS is the inspecting authority itself.
	RoleSAS Role = "sas"
	// RoleAdmins is the platform operator role.
	RoleAdmins Role = "admins"
	// RoleBrokers is the procuring side's marketplace role. Brokers holding
	// the restricted-data accreditation see restricted cases unmasked.
	RoleBrokers Role = "brokers"
	// RolePublic is any unauthenticated or unprivileged viewer.
	RolePublic Role = "public"
)

// RestrictedDataAccreditation is the accreditation level that exempts a
// broker from restricted-field masking.
const RestrictedDataAccreditation = 6

// Period is a computed date range. Never hand-edited; the engine rejects
// patches that try.
type Period struct {
	StartDate string `json:"startDate,omitempty" format:"date-time"`
	EndDate   string `json:"endDate,omitempty" format:"date-time"`
}

type Document struct {
	ID            string `json:"id,omitempty"`
	Title         string `json:"title,omitempty"`
	TitleEN       string `json:"title_en,omitempty"`
	Description   string `json:"description,omitempty"`
	URL           string `json:"url,omitempty"`
	Format        string `json:"format,omitempty"`
	DatePublished string `json:"datePublished,omitempty" format:"date-time"`
}

type Identifier struct {
	Scheme    string `json:"scheme,omitempty"`
	ID        string `json:"id,omitempty"`
	LegalName string `json:"legalName,omitempty"`
}

type Party struct {
	ID         string     `json:"id,omitempty"`
	Name       string     `json:"name,omitempty"`
	Identifier Identifier `json:"identifier,omitempty"`
	Kind       string     `json:"kind,omitempty"`
	Roles      []string   `json:"roles,omitempty"`
}

// Decision opens the monitoring (draft -> active).
type Decision struct {
	Description   string     `json:"description,omitempty"`
	DescriptionEN string     `json:"description_en,omitempty"`
	Documents     []Document `json:"documents,omitempty"`
	DatePublished string     `json:"datePublished,omitempty" format:"date-time"`
}

// Conclusion closes the inspection phase (active -> addressed/declined).
type Conclusion struct {
	Description        string     `json:"description,omitempty"`
	DescriptionEN      string     `json:"description_en,omitempty"`
	ViolationOccurred  *bool      `json:"violationOccurred,omitempty"`
	ViolationType      []string   `json:"violationType,omitempty"`
	Documents          []Document `json:"documents,omitempty"`
	DatePublished      string     `json:"datePublished,omitempty" format:"date-time"`
	StringsAttached    string     `json:"stringsAttached,omitempty"`
	AuditFinding       string     `json:"auditFinding,omitempty"`
	RelatedParty       string     `json:"relatedParty,omitempty"`
	OtherViolationType string     `json:"otherViolationType,omitempty"`
}

// Cancellation accompanies draft -> cancelled and any -> stopped.
type Cancellation struct {
	Description   string     `json:"description,omitempty"`
	DescriptionEN string     `json:"description_en,omitempty"`
	Documents     []Document `json:"documents,omitempty"`
	DatePublished string     `json:"datePublished,omitempty" format:"date-time"`
}

// EliminationReport is the procuring entity's account of fixing violations.
type EliminationReport struct {
	Description   string     `json:"description,omitempty"`
	Documents     []Document `json:"documents,omitempty"`
	DateCreated   string     `json:"dateCreated,omitempty" format:"date-time"`
	DatePublished string     `json:"datePublished,omitempty" format:"date-time"`
}

// EliminationResolution is the authority's verdict on the report. Its
// datePublished is back-dated to dateCreated when first posted.
type EliminationResolution struct {
	Description   string     `json:"description,omitempty"`
	Result        string     `json:"result,omitempty"`
	ResultByType  map[string]string `json:"resultByType,omitempty"`
	Documents     []Document `json:"documents,omitempty"`
	DateCreated   string     `json:"dateCreated,omitempty" format:"date-time"`
	DatePublished string     `json:"datePublished,omitempty" format:"date-time"`
}

type Appeal struct {
	Description   string     `json:"description,omitempty"`
	Documents     []Document `json:"documents,omitempty"`
	DatePublished string     `json:"datePublished,omitempty" format:"date-time"`
}

// Post is a dialogue entry between the authority and the procuring entity.
type Post struct {
	ID            string     `json:"id,omitempty"`
	Title         string     `json:"title,omitempty"`
	Description   string     `json:"description,omitempty"`
	Author        string     `json:"author,omitempty"`
	RelatedPost   string     `json:"relatedPost,omitempty"`
	Documents     []Document `json:"documents,omitempty"`
	DatePublished string     `json:"datePublished,omitempty" format:"date-time"`
}

// Case is a monitoring record over a procurement tender. The revision
// counter lives next to the stored body, not inside it; the store returns
// both together.
type Case struct {
	ID       string `json:"id"`
	PublicID string `json:"publicId,omitempty"`
	TenderID string `json:"tenderId,omitempty"`
	Status   Status `json:"status"`

	// Restricted is fixed at creation from the procuring-entity kind lookup.
	Restricted bool `json:"restricted"`
	// LegacyMasked triggers the deprecated whole-tree masking pass. Distinct
	// from Restricted and kept only for records migrated with it set.
	LegacyMasked bool `json:"is_masked,omitempty"`

	Reasons           []string `json:"reasons,omitempty"`
	Procedure         string   `json:"procedure,omitempty"`
	MonitoringDetails string   `json:"monitoringDetails,omitempty"`

	ProcuringEntity *Party `json:"procuringEntity,omitempty"`
	Parties         []Party `json:"parties,omitempty"`
	Posts           []Post  `json:"posts,omitempty"`

	Decision              *Decision              `json:"decision,omitempty"`
	Conclusion            *Conclusion            `json:"conclusion,omitempty"`
	Cancellation          *Cancellation          `json:"cancellation,omitempty"`
	EliminationReport     *EliminationReport     `json:"eliminationReport,omitempty"`
	EliminationResolution *EliminationResolution `json:"eliminationResolution,omitempty"`
	Appeal                *Appeal                `json:"appeal,omitempty"`

	MonitoringPeriod  *Period `json:"monitoringPeriod,omitempty"`
	EliminationPeriod *Period `json:"eliminationPeriod,omitempty"`
	EndDate           string  `json:"endDate,omitempty" format:"date-time"`

	DateCreated  string `json:"dateCreated,omitempty" format:"date-time"`
	DateModified string `json:"dateModified,omitempty" format:"date-time"`
}

// RevisionRecord is one append-only audit-trail entry: the structural diff a
// single accepted mutation produced, keyed by the revision it created.
type RevisionRecord struct {
	Rev     int    `json:"rev"`
	Author  string `json:"author"`
	Date    string `json:"date" format:"date-time"`
	Changes string `json:"changes"`
}

// Terminal reports whether no edge leaves the status.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusCancelled
}

// Known reports whether the status is one of the graph's states.
func (s Status) Known() bool {
	switch s {
	case StatusDraft, StatusActive, StatusAddressed, StatusDeclined, StatusStopped, StatusCancelled:
		return true
	}
	return false
}
