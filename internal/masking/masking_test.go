package masking_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"caseline/internal/domain"
	"caseline/internal/masking"
)

func sampleDoc(t *testing.T) map[string]any {
	t.Helper()
	raw := `{
		"id": "c-1",
		"publicId": "UA-M-2018-01-02-000001",
		"status": "active",
		"restricted": true,
		"decision": {
			"description": "рішення про моніторинг",
			"description_en": "monitoring decision",
			"datePublished": "2018-01-02T10:00:00+02:00",
			"documents": [
				{"id": "d-1", "title": "наказ", "title_en": "order", "url": "https://docs/1"},
				{"id": "d-2", "title": "додаток", "url": "https://docs/2"}
			]
		},
		"posts": [
			{"title": "питання", "description": "текст", "documents": [
				{"title": "лист", "url": "https://docs/3"},
				{"title": "скан", "url": "https://docs/4"}
			]},
			{"title": "відповідь", "documents": [
				{"title": "пояснення", "url": "https://docs/5"}
			]}
		],
		"parties": [
			{"name": "ТОВ Постачальник", "identifier": {"scheme": "UA-EDR", "id": "12345678", "legalName": "ТОВ Постачальник"}}
		]
	}`
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	return doc
}

func clone(t *testing.T, doc map[string]any) map[string]any {
	t.Helper()
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestMaskEveryWildcardMatch(t *testing.T) {
	doc := masking.Apply(sampleDoc(t), true, domain.RolePublic, false)
	decision := doc["decision"].(map[string]any)
	if decision["description"] != masking.MaskValue {
		t.Fatalf("decision.description not masked: %v", decision["description"])
	}
	if decision["description_en"] != masking.MaskValueEN {
		t.Fatalf("description_en must use the english sentinel: %v", decision["description_en"])
	}
	for i, d := range decision["documents"].([]any) {
		dd := d.(map[string]any)
		if dd["title"] != masking.MaskValue || dd["url"] != masking.MaskValue {
			t.Fatalf("decision document %d not fully masked: %v", i, dd)
		}
	}
	// Structural-path matching: every post and every nested document, not
	// just the first.
	for i, p := range doc["posts"].([]any) {
		post := p.(map[string]any)
		if post["title"] != masking.MaskValue {
			t.Fatalf("post %d title not masked", i)
		}
		for j, d := range post["documents"].([]any) {
			nested := d.(map[string]any)
			if nested["title"] != masking.MaskValue {
				t.Fatalf("post %d document %d title not masked", i, j)
			}
		}
	}
	party := doc["parties"].([]any)[0].(map[string]any)
	if party["name"] != masking.MaskValue {
		t.Fatalf("party name not masked")
	}
	ident := party["identifier"].(map[string]any)
	if ident["legalName"] != masking.MaskValue {
		t.Fatalf("identifier.legalName not masked")
	}
	if ident["scheme"] != "UA-EDR" {
		t.Fatalf("unmapped field touched: %v", ident["scheme"])
	}
	if decision["datePublished"] != "2018-01-02T10:00:00+02:00" {
		t.Fatalf("dates must survive masking")
	}
}

func TestMaskIdempotent(t *testing.T) {
	once := masking.Apply(sampleDoc(t), true, domain.RolePublic, false)
	twice := masking.Apply(clone(t, once), true, domain.RolePublic, false)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("masking is not idempotent")
	}
}

func TestMaskNoOpConditions(t *testing.T) {
	original := sampleDoc(t)
	cases := []struct {
		name       string
		restricted bool
		role       domain.Role
		access     bool
	}{
		{"unrestricted case", false, domain.RolePublic, false},
		{"sas role", true, domain.RoleSAS, false},
		{"admins role", true, domain.RoleAdmins, false},
		{"broker with restricted accreditation", true, domain.RoleBrokers, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := masking.Apply(sampleDoc(t), tc.restricted, tc.role, tc.access)
			if !reflect.DeepEqual(got, original) {
				t.Fatalf("expected untouched document")
			}
		})
	}
	// A broker without the accreditation still gets the redacted view.
	got := masking.Apply(sampleDoc(t), true, domain.RoleBrokers, false)
	if reflect.DeepEqual(got, original) {
		t.Fatalf("broker without accreditation must be masked")
	}
}

func TestMaskSkipsMissingNodes(t *testing.T) {
	doc := map[string]any{
		"id":     "c-2",
		"status": "draft",
		"posts":  []any{map[string]any{"title": "only title"}},
	}
	got := masking.Apply(doc, true, domain.RolePublic, false)
	if got["posts"].([]any)[0].(map[string]any)["title"] != masking.MaskValue {
		t.Fatalf("present leaf must still be masked")
	}
	if _, ok := got["decision"]; ok {
		t.Fatalf("absent branch must stay absent")
	}
}

func TestLegacyMask(t *testing.T) {
	raw := `{
		"id": "c-3",
		"status": "active",
		"monitoringDetails": "accelerator=360",
		"dateCreated": "2018-01-01T11:00:00+02:00",
		"decision": {
			"description": "текст",
			"datePublished": "2018-01-02T10:00:00+02:00"
		},
		"parties": [
			{"name": "ТОВ", "identifier": {"scheme": "UA-EDR", "id": "12345678", "legalName": "ТОВ"}}
		],
		"value": {"amount": 1500.5, "currency": "UAH"},
		"restricted": true
	}`
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatal(err)
	}
	got := masking.LegacyMask(doc)

	if got["id"] != "c-3" || got["status"] != "active" {
		t.Fatalf("excluded fields must survive")
	}
	if got["dateCreated"] != "2018-01-01T11:00:00+02:00" {
		t.Fatalf("date-prefixed keys must survive")
	}
	decision := got["decision"].(map[string]any)
	if decision["datePublished"] != "2018-01-02T10:00:00+02:00" {
		t.Fatalf("Date-suffixed keys must survive")
	}
	if decision["description"] != "00000" {
		t.Fatalf("string leaves become same-length zero runs, got %q", decision["description"])
	}
	if got["monitoringDetails"] != "000000000000000" {
		t.Fatalf("got %q", got["monitoringDetails"])
	}
	value := got["value"].(map[string]any)
	if value["amount"] != float64(0) {
		t.Fatalf("numbers become 0, got %v", value["amount"])
	}
	if value["currency"] != "UAH" {
		t.Fatalf("currency is excluded, got %v", value["currency"])
	}
	if got["restricted"] != true {
		t.Fatalf("booleans stay untouched")
	}
	party := got["parties"].([]any)[0].(map[string]any)
	if party["name"] != "000" {
		t.Fatalf("party name: %q", party["name"])
	}
	ident := party["identifier"].(map[string]any)
	if ident["id"] != "00000000" {
		t.Fatalf("identifier.id is masked despite identifier exclusion, got %q", ident["id"])
	}
	if ident["scheme"] != "UA-EDR" || ident["legalName"] != "ТОВ" {
		t.Fatalf("other identifier fields stay, got %v", ident)
	}
}
