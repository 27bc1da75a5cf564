package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/bariendo/close-ops/pkg/closeapi"
	"github.com/bariendo/close-ops/pkg/export"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// importColumns is the expected CSV layout for lead imports, in order.
var importColumns = []string{
	"name",
	"email",
	"phone",
	"status",
	"patient_navigator_email",
	"lead_source",
	"preferred_language",
	"date_created",
	"unix_time",
	"note",
	"note_user_email",
}

func init() {
	cmd := &cobra.Command{
		Use:   "import-leads FILE",
		Short: "Create leads in Close from a CSV file",
		Long: fmt.Sprintf(`Create one lead per CSV row, including the primary contact, custom
fields, and an optional note activity. The CSV must carry a header row
with these columns in order:

  %v`, importColumns),
		Args: cobra.ExactArgs(1),
		RunE: runImportLeads,
	}

	rootCmd.AddCommand(cmd)
}

func runImportLeads(cmd *cobra.Command, args []string) error {
	header, rows, err := export.ReadCSV(args[0])
	if err != nil {
		return err
	}
	if len(header) < len(importColumns) {
		return fmt.Errorf("csv has %d columns, want %d (%v)", len(header), len(importColumns), importColumns)
	}
	if len(rows) == 0 {
		log.Info().Msg("CSV has no data rows")
		return nil
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	navigatorField, err := client.PrefixedCustomFieldID(ctx, "lead", patientNavigatorFieldName)
	if err != nil {
		return err
	}
	leadSourceField, err := client.PrefixedCustomFieldID(ctx, "lead", "Lead Source")
	if err != nil {
		return err
	}
	languageField, err := client.PrefixedCustomFieldID(ctx, "contact", "Preferred Language")
	if err != nil {
		return err
	}

	users, err := client.Users(ctx)
	if err != nil {
		return err
	}
	userIDByEmail := make(map[string]string, len(users))
	for _, user := range users {
		userIDByEmail[user.Email] = user.ID
	}

	creates := make([]closeapi.Update, 0, len(rows))
	notes := make([]noteSpec, 0)

	for i, row := range rows {
		payload, note, err := buildLeadPayload(row, leadPayloadContext{
			navigatorField:  navigatorField,
			leadSourceField: leadSourceField,
			languageField:   languageField,
			userIDByEmail:   userIDByEmail,
		})
		if err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
		creates = append(creates, closeapi.Update{Endpoint: "lead", Payload: payload})
		notes = append(notes, note)
	}

	if flagDryRun {
		log.Info().Int("leads", len(creates)).Msg("Dry run: would create leads")
		return nil
	}

	created, failures := client.PostAll(ctx, creates)
	log.Info().
		Int("created", len(created)).
		Int("failed", len(failures)).
		Msg("Lead import complete")
	for _, f := range failures {
		log.Error().Err(f.Err).Msg("Lead creation failed")
	}

	// Attach notes to the leads that were created. Note order follows the
	// success order, so look leads up by name instead of position.
	noteCreates := buildNoteCreates(created, notes, userIDByEmail)
	if len(noteCreates) > 0 {
		_, noteFailures := client.PostAll(ctx, noteCreates)
		for _, f := range noteFailures {
			log.Error().Err(f.Err).Msg("Note creation failed")
		}
	}

	if len(created) > 0 {
		path := export.Path(cfg.Export.Dir, "leads_imported_from_csv", cfg.Env, "json")
		if err := export.WriteJSON(path, created); err != nil {
			return err
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("%d of %d leads failed to import", len(failures), len(creates))
	}
	return nil
}

// leadPayloadContext carries the resolved custom field ids and user map for
// building lead payloads.
type leadPayloadContext struct {
	navigatorField  string
	leadSourceField string
	languageField   string
	userIDByEmail   map[string]string
}

// noteSpec is a note to attach after its lead is created, keyed by the lead
// name from the same CSV row.
type noteSpec struct {
	LeadName  string
	Note      string
	UserEmail string
	Date      string
}

// buildLeadPayload turns one CSV row into a lead creation payload and its
// optional note.
func buildLeadPayload(row []string, pc leadPayloadContext) (map[string]any, noteSpec, error) {
	get := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}

	name := get(0)
	if name == "" {
		return nil, noteSpec{}, fmt.Errorf("missing lead name")
	}

	dateCreated := get(7)
	if dateCreated == "" {
		if unix := get(8); unix != "" {
			seconds, err := strconv.ParseInt(unix, 10, 64)
			if err != nil {
				return nil, noteSpec{}, fmt.Errorf("invalid unix_time %q: %w", unix, err)
			}
			dateCreated = time.Unix(seconds, 0).UTC().Format(time.RFC3339)
		}
	}

	contact := map[string]any{"name": name}
	if email := get(1); email != "" {
		contact["emails"] = []map[string]string{{"email": email, "type": "direct"}}
	}
	if phone := get(2); phone != "" {
		contact["phones"] = []map[string]string{{"phone": phone, "type": "mobile"}}
	}
	if language := get(6); language != "" {
		contact[pc.languageField] = language
	}

	payload := map[string]any{
		"name":     name,
		"contacts": []map[string]any{contact},
	}
	if status := get(3); status != "" {
		payload["status"] = status
	}
	if navigatorEmail := get(4); navigatorEmail != "" {
		if userID, ok := pc.userIDByEmail[navigatorEmail]; ok {
			payload[pc.navigatorField] = userID
		} else {
			return nil, noteSpec{}, fmt.Errorf("unknown patient navigator %q", navigatorEmail)
		}
	}
	if source := get(5); source != "" {
		payload[pc.leadSourceField] = source
	}
	if dateCreated != "" {
		payload["date_created"] = dateCreated
	}

	note := noteSpec{
		LeadName:  name,
		Note:      get(9),
		UserEmail: get(10),
		Date:      dateCreated,
	}
	return payload, note, nil
}

// buildNoteCreates matches created leads to their notes by lead name and
// returns the note activity creations.
func buildNoteCreates(created []json.RawMessage, notes []noteSpec, userIDByEmail map[string]string) []closeapi.Update {
	byName := make(map[string]string, len(created))
	for _, lead := range created {
		var decoded struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(lead, &decoded); err != nil {
			continue
		}
		byName[decoded.Name] = decoded.ID
	}

	var creates []closeapi.Update
	for _, note := range notes {
		if note.Note == "" || note.UserEmail == "" {
			continue
		}
		leadID, ok := byName[note.LeadName]
		if !ok {
			continue
		}
		payload := map[string]any{
			"note":    note.Note,
			"lead_id": leadID,
		}
		if userID, ok := userIDByEmail[note.UserEmail]; ok {
			payload["user_id"] = userID
		}
		if note.Date != "" {
			payload["activity_at"] = note.Date
			payload["date_created"] = note.Date
		}
		creates = append(creates, closeapi.Update{Endpoint: "activity/note", Payload: payload})
	}
	return creates
}
