package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bariendo/close-ops/pkg/closeapi"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "mark-stale MONTHS",
		Short: "Mark stale opportunities as Lost and their leads as Unresponsive",
		Long: `Find active opportunities not updated in MONTHS months whose lead also
had no communication in that window and carries no Payment record, then
mark the opportunities Lost and their leads Unresponsive.`,
		Args: cobra.ExactArgs(1),
		RunE: runMarkStale,
	}

	rootCmd.AddCommand(cmd)
}

func runMarkStale(cmd *cobra.Command, args []string) error {
	months, err := strconv.Atoi(args[0])
	if err != nil || months < 1 {
		return fmt.Errorf("MONTHS must be a positive integer, got %q", args[0])
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	oppStatuses, err := client.OpportunityStatuses(ctx)
	if err != nil {
		return err
	}
	lostID, err := closeapi.StatusIDByLabelAndType(oppStatuses, "Lost", "lost")
	if err != nil {
		return err
	}

	leadStatuses, err := client.LeadStatuses(ctx)
	if err != nil {
		return err
	}
	unresponsiveID, err := closeapi.StatusIDByLabel(leadStatuses, "Unresponsive")
	if err != nil {
		return err
	}

	paymentTypeID, err := client.CustomObjectTypeID(ctx, "Payment")
	if err != nil {
		return err
	}

	query := staleOpportunityQuery(months, paymentTypeID)
	records, err := client.Search(ctx, query, closeapi.SearchOptions{
		Fields: map[string][]string{
			"opportunity": {"id", "lead_id", "lead_name", "value_formatted", "date_updated", "note"},
		},
		Sort: []map[string]any{{
			"field": map[string]any{
				"object_type": "opportunity",
				"type":        "regular_field",
				"field_name":  "date_updated",
			},
			"direction": "asc",
		}},
	})
	if err != nil {
		return fmt.Errorf("search stale opportunities: %w", err)
	}

	if len(records) == 0 {
		log.Info().Msg("No stale opportunities found")
		return nil
	}

	oppUpdates, leadUpdates := buildStaleUpdates(records, months, lostID, unresponsiveID)

	log.Info().
		Int("opportunities", len(oppUpdates)).
		Int("leads", len(leadUpdates)).
		Int("months", months).
		Msg("Collected stale opportunities")

	if flagDryRun {
		for _, update := range oppUpdates {
			log.Info().Str("endpoint", update.Endpoint).Msg("Dry run: would mark Lost")
		}
		for _, update := range leadUpdates {
			log.Info().Str("endpoint", update.Endpoint).Msg("Dry run: would mark Unresponsive")
		}
		return nil
	}

	oppOK, oppFailed := client.PutAll(ctx, oppUpdates)
	leadOK, leadFailed := client.PutAll(ctx, leadUpdates)

	log.Info().
		Int("opportunities_updated", len(oppOK)).
		Int("opportunities_failed", len(oppFailed)).
		Int("leads_updated", len(leadOK)).
		Int("leads_failed", len(leadFailed)).
		Msg("Stale sweep complete")

	if len(oppFailed)+len(leadFailed) > 0 {
		return fmt.Errorf("%d updates failed", len(oppFailed)+len(leadFailed))
	}
	return nil
}

// staleOpportunityQuery matches active opportunities untouched for the given
// number of months whose lead also went quiet and has no Payment custom
// object attached.
func staleOpportunityQuery(months int, paymentTypeID string) closeapi.Query {
	return closeapi.And(
		closeapi.ObjectTypeQuery("opportunity"),
		closeapi.FieldCondition("opportunity", "status_type", closeapi.TermCondition("active")),
		closeapi.OlderThanMonths("opportunity", "date_updated", months),
		closeapi.HasRelated("opportunity", "lead", closeapi.And(
			closeapi.OlderThanMonths("lead", "last_communication_date", months),
			closeapi.HasRelated("lead", "custom_object", closeapi.And(
				closeapi.MatchAll(),
				closeapi.FieldCondition("custom_object", "custom_object_type_id",
					closeapi.TermCondition(paymentTypeID)),
			), true),
		), false),
	)
}

// buildStaleUpdates turns the searched opportunities into status updates:
// one per opportunity, plus one per distinct lead. The opportunity's
// existing note is preserved below the automated line.
func buildStaleUpdates(records []json.RawMessage, months int, lostID, unresponsiveID string) (oppUpdates, leadUpdates []closeapi.Update) {
	reason := fmt.Sprintf("Automatically marked as Lost due to inactivity for %d months.", months)
	leadReason := fmt.Sprintf("Automatically marked as Unresponsive due to inactivity for %d months.", months)

	seenLeads := make(map[string]bool)

	for _, record := range records {
		var opp struct {
			ID     string `json:"id"`
			LeadID string `json:"lead_id"`
			Note   string `json:"note"`
		}
		if err := json.Unmarshal(record, &opp); err != nil || opp.ID == "" {
			continue
		}

		note := reason
		if opp.Note != "" {
			note += "\n\n" + opp.Note
		}

		oppUpdates = append(oppUpdates, closeapi.Update{
			Endpoint: "opportunity/" + opp.ID,
			Payload: map[string]any{
				"status_id": lostID,
				"note":      note,
			},
		})

		if opp.LeadID != "" && !seenLeads[opp.LeadID] {
			seenLeads[opp.LeadID] = true
			leadUpdates = append(leadUpdates, closeapi.Update{
				Endpoint: "lead/" + opp.LeadID,
				Payload: map[string]any{
					"status_id":   unresponsiveID,
					"description": leadReason,
				},
			})
		}
	}

	return oppUpdates, leadUpdates
}
