package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bariendo/close-ops/pkg/closeapi"
	"github.com/bariendo/close-ops/pkg/export"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Custom field names the refunded export pulls alongside the built-in
// opportunity fields.
const (
	bariendoUserIDFieldName    = "Bariendo User ID"
	healthieUserIDFieldName    = "Healthie User ID"
	patientNavigatorFieldName  = "Patient Navigator"
	lossReasonFieldName        = "Loss Reason"
	lossReasonDetailsFieldName = "Loss Reason Details"
)

var (
	flagRefundedStart  string
	flagRefundedEnd    string
	flagRefundedOutput string
)

func init() {
	cmd := &cobra.Command{
		Use:   "export-refunded",
		Short: "Export refunded opportunities won in a date range to CSV",
		Long: `Export every opportunity with the Refunded status whose date_won falls
inside the given range, one CSV row per opportunity, together with the
lead's patient identifiers.`,
		RunE: runExportRefunded,
	}

	cmd.Flags().StringVar(&flagRefundedStart, "start", "", "start of the date_won range (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringVar(&flagRefundedEnd, "end", "", "end of the date_won range (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringVarP(&flagRefundedOutput, "output", "o", "", "output CSV path (default output/refunded_opportunities-ENV-START-END.csv)")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")

	rootCmd.AddCommand(cmd)
}

func runExportRefunded(cmd *cobra.Command, args []string) error {
	start, err := time.Parse("2006-01-02", flagRefundedStart)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	end, err := time.Parse("2006-01-02", flagRefundedEnd)
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("--end %s is before --start %s", flagRefundedEnd, flagRefundedStart)
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	statuses, err := client.OpportunityStatuses(ctx)
	if err != nil {
		return err
	}
	refundedID, err := closeapi.StatusIDByLabel(statuses, "Refunded")
	if err != nil {
		return err
	}

	leadFields, err := client.CustomFieldNamePrefixedIDMapping(ctx, "lead")
	if err != nil {
		return err
	}
	oppFields, err := client.CustomFieldNamePrefixedIDMapping(ctx, "opportunity")
	if err != nil {
		return err
	}

	users, err := client.Users(ctx)
	if err != nil {
		return err
	}
	usersByID := make(map[string]string, len(users))
	for _, user := range users {
		name := user.DisplayName()
		if name == "" {
			name = user.Email
		}
		usersByID[user.ID] = name
	}

	query := closeapi.And(
		closeapi.ObjectTypeQuery("lead"),
		closeapi.HasRelated("lead", "opportunity", closeapi.And(
			closeapi.FieldCondition("opportunity", "status_id",
				closeapi.ReferenceCondition("status.opportunity", refundedID)),
			closeapi.DateRangeQuery("opportunity", "date_won", start, end),
		), false),
	)

	records, err := client.Search(ctx, query, closeapi.SearchOptions{
		Fields: map[string][]string{
			"lead": {
				"id", "display_name", "date_created", "opportunities",
				leadFields[bariendoUserIDFieldName],
				leadFields[healthieUserIDFieldName],
				leadFields[patientNavigatorFieldName],
			},
		},
	})
	if err != nil {
		return fmt.Errorf("search refunded opportunities: %w", err)
	}

	header, rows := buildRefundedRows(records, refundedRowContext{
		refundedStatusID: refundedID,
		start:            start,
		end:              end,
		usersByID:        usersByID,
		leadFields:       leadFields,
		oppFields:        oppFields,
	})

	log.Info().
		Int("leads", len(records)).
		Int("opportunities", len(rows)).
		Msg("Collected refunded opportunities")

	path := flagRefundedOutput
	if path == "" {
		path = export.Path(cfg.Export.Dir, "refunded_opportunities", cfg.Env, "csv",
			flagRefundedStart, flagRefundedEnd)
	}

	if flagDryRun {
		log.Info().Str("path", path).Int("rows", len(rows)).Msg("Dry run: would write refunded export")
		return nil
	}

	return export.WriteCSV(path, header, rows)
}

// refundedRowContext carries the resolved ids and mappings needed to flatten
// lead records into CSV rows.
type refundedRowContext struct {
	refundedStatusID string
	start, end       time.Time
	usersByID        map[string]string
	leadFields       map[string]string
	oppFields        map[string]string
}

// buildRefundedRows flattens the searched leads into one CSV row per
// refunded opportunity won inside the range. The API-side filter is on the
// lead, so each lead's opportunities still need filtering here.
func buildRefundedRows(records []json.RawMessage, rc refundedRowContext) (header []string, rows [][]string) {
	header = []string{
		"lead_id",
		"lead_name",
		"lead_date_created",
		bariendoUserIDFieldName,
		healthieUserIDFieldName,
		patientNavigatorFieldName,
		"opportunity_id",
		"opportunity_value_formatted",
		"opportunity_status_label",
		"opportunity_user_name",
		"opportunity_date_won",
		lossReasonFieldName,
		lossReasonDetailsFieldName,
	}

	for _, record := range records {
		var lead map[string]any
		if err := json.Unmarshal(record, &lead); err != nil {
			log.Warn().Err(err).Msg("Skipping undecodable lead record")
			continue
		}

		opportunities, _ := lead["opportunities"].([]any)
		for _, raw := range opportunities {
			opp, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if stringField(opp, "status_id") != rc.refundedStatusID {
				continue
			}
			dateWon := stringField(opp, "date_won")
			if !wonInRange(dateWon, rc.start, rc.end) {
				continue
			}

			navigator := stringField(lead, rc.leadFields[patientNavigatorFieldName])
			if name, ok := rc.usersByID[navigator]; ok {
				navigator = name
			}

			rows = append(rows, []string{
				stringField(lead, "id"),
				stringField(lead, "display_name"),
				stringField(lead, "date_created"),
				stringField(lead, rc.leadFields[bariendoUserIDFieldName]),
				stringField(lead, rc.leadFields[healthieUserIDFieldName]),
				navigator,
				stringField(opp, "id"),
				stringField(opp, "value_formatted"),
				stringField(opp, "status_label"),
				rc.usersByID[stringField(opp, "user_id")],
				dateWon,
				stringField(opp, rc.oppFields[lossReasonFieldName]),
				stringField(opp, rc.oppFields[lossReasonDetailsFieldName]),
			})
		}
	}

	return header, rows
}

// wonInRange reports whether a date_won value (date or RFC 3339 timestamp)
// falls inside [start, end] as calendar days.
func wonInRange(dateWon string, start, end time.Time) bool {
	if dateWon == "" {
		return false
	}
	if len(dateWon) > 10 {
		dateWon = dateWon[:10]
	}
	won, err := time.Parse("2006-01-02", dateWon)
	if err != nil {
		return false
	}
	return !won.Before(start) && !won.After(end)
}

// stringField extracts a string value from a decoded JSON object, returning
// "" for missing or non-string values.
func stringField(m map[string]any, key string) string {
	if key == "" {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
