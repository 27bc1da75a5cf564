package closeapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

// schemaHandler serves canned schema list endpoints.
func schemaHandler(t *testing.T) http.Handler {
	t.Helper()

	mux := http.NewServeMux()
	serve := func(pattern string, body any) {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"data":     body,
				"has_more": false,
			})
		})
	}

	serve("/custom_field/lead/", []map[string]string{
		{"id": "cf_abc123", "name": "Bariendo User ID"},
		{"id": "cf_def456", "name": "Clinic"},
	})
	serve("/status/lead/", []map[string]string{
		{"id": "stat_qualified", "label": "Qualified"},
		{"id": "stat_unresponsive", "label": "Unresponsive"},
	})
	serve("/status/opportunity/", []map[string]string{
		{"id": "stat_active", "label": "Active", "type": "active"},
		{"id": "stat_lost", "label": "Lost", "type": "lost"},
		{"id": "stat_refunded", "label": "Refunded", "type": "lost"},
	})
	serve("/user/", []map[string]string{
		{"id": "user_001", "email": "ana@example.com", "first_name": "Ana", "last_name": "Silva"},
		{"id": "user_002", "email": "ben@example.com", "first_name": "Ben", "last_name": "Okafor"},
	})
	serve("/custom_activity/", []map[string]string{
		{"id": "actitype_refund", "name": "Refund"},
		{"id": "actitype_intake", "name": "Intake Call"},
	})
	serve("/custom_object_type/", []map[string]string{
		{"id": "cotype_payment", "name": "Payment"},
	})

	return mux
}

func TestCustomFieldIDByName(t *testing.T) {
	client := newTestClient(t, schemaHandler(t))

	id, err := client.CustomFieldIDByName(context.Background(), "lead", "Clinic")
	if err != nil {
		t.Fatalf("CustomFieldIDByName() error = %v", err)
	}
	if id != "cf_def456" {
		t.Errorf("id = %q, want cf_def456", id)
	}
}

func TestCustomFieldIDByName_NotFound(t *testing.T) {
	client := newTestClient(t, schemaHandler(t))

	_, err := client.CustomFieldIDByName(context.Background(), "lead", "Nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestPrefixedCustomFieldID(t *testing.T) {
	client := newTestClient(t, schemaHandler(t))

	id, err := client.PrefixedCustomFieldID(context.Background(), "lead", "Bariendo User ID")
	if err != nil {
		t.Fatalf("PrefixedCustomFieldID() error = %v", err)
	}
	if id != "custom.cf_abc123" {
		t.Errorf("id = %q, want custom.cf_abc123", id)
	}
}

func TestCustomFieldMappings(t *testing.T) {
	client := newTestClient(t, schemaHandler(t))
	ctx := context.Background()

	idToName, err := client.CustomFieldIDNameMapping(ctx, "lead")
	if err != nil {
		t.Fatalf("CustomFieldIDNameMapping() error = %v", err)
	}
	if idToName["cf_abc123"] != "Bariendo User ID" {
		t.Errorf("idToName = %v, want cf_abc123 mapped", idToName)
	}

	nameToPrefixed, err := client.CustomFieldNamePrefixedIDMapping(ctx, "lead")
	if err != nil {
		t.Fatalf("CustomFieldNamePrefixedIDMapping() error = %v", err)
	}
	if nameToPrefixed["Clinic"] != "custom.cf_def456" {
		t.Errorf("nameToPrefixed = %v, want Clinic mapped", nameToPrefixed)
	}
}

func TestStatusIDByLabel(t *testing.T) {
	client := newTestClient(t, schemaHandler(t))

	statuses, err := client.OpportunityStatuses(context.Background())
	if err != nil {
		t.Fatalf("OpportunityStatuses() error = %v", err)
	}

	id, err := StatusIDByLabel(statuses, "Refunded")
	if err != nil {
		t.Fatalf("StatusIDByLabel() error = %v", err)
	}
	if id != "stat_refunded" {
		t.Errorf("id = %q, want stat_refunded", id)
	}

	if _, err := StatusIDByLabel(statuses, "Imaginary"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestStatusIDByLabelAndType(t *testing.T) {
	statuses := []Status{
		{ID: "stat_trap", Label: "Lost", Type: "active"}, // mislabeled
		{ID: "stat_lost", Label: "Lost", Type: "lost"},
	}

	id, err := StatusIDByLabelAndType(statuses, "Lost", "lost")
	if err != nil {
		t.Fatalf("StatusIDByLabelAndType() error = %v", err)
	}
	if id != "stat_lost" {
		t.Errorf("id = %q, want stat_lost (the active status named Lost must be skipped)", id)
	}

	if _, err := StatusIDByLabelAndType(statuses, "Lost", "won"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound for missing type", err)
	}
}

func TestUserIDsByEmail(t *testing.T) {
	client := newTestClient(t, schemaHandler(t))

	ids, err := client.UserIDsByEmail(context.Background(), []string{"BEN@example.com", "ana@example.com"})
	if err != nil {
		t.Fatalf("UserIDsByEmail() error = %v", err)
	}

	want := []string{"user_002", "user_001"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q (input order preserved)", i, ids[i], want[i])
		}
	}
}

func TestUserIDsByEmail_Missing(t *testing.T) {
	client := newTestClient(t, schemaHandler(t))

	_, err := client.UserIDsByEmail(context.Background(), []string{"ana@example.com", "ghost@example.com"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestFindUser(t *testing.T) {
	client := newTestClient(t, schemaHandler(t))
	ctx := context.Background()

	tests := []struct {
		name       string
		identifier string
		wantID     string
	}{
		{"by id", "user_001", "user_001"},
		{"by email", "ben@example.com", "user_002"},
		{"by display name", "Ana Silva", "user_001"},
		{"case insensitive name", "ben okafor", "user_002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := client.FindUser(ctx, tt.identifier)
			if err != nil {
				t.Fatalf("FindUser(%q) error = %v", tt.identifier, err)
			}
			if user.ID != tt.wantID {
				t.Errorf("FindUser(%q).ID = %q, want %q", tt.identifier, user.ID, tt.wantID)
			}
		})
	}

	if _, err := client.FindUser(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCustomActivityTypeID(t *testing.T) {
	client := newTestClient(t, schemaHandler(t))

	id, err := client.CustomActivityTypeID(context.Background(), "Refund")
	if err != nil {
		t.Fatalf("CustomActivityTypeID() error = %v", err)
	}
	if id != "actitype_refund" {
		t.Errorf("id = %q, want actitype_refund", id)
	}
}

func TestCustomObjectTypeID(t *testing.T) {
	client := newTestClient(t, schemaHandler(t))

	id, err := client.CustomObjectTypeID(context.Background(), "Payment")
	if err != nil {
		t.Fatalf("CustomObjectTypeID() error = %v", err)
	}
	if id != "cotype_payment" {
		t.Errorf("id = %q, want cotype_payment", id)
	}
}
