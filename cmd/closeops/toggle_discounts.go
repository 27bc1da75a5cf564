package main

import (
	"encoding/json"
	"fmt"

	"github.com/bariendo/close-ops/pkg/closeapi"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const consultationFeeCredit = "Consultation Fee Credit"

var (
	flagToggleMax           int
	flagToggleUpdatedBefore int
)

func init() {
	cmd := &cobra.Command{
		Use:   "toggle-discounts",
		Short: "Toggle the Consultation Fee Credit discount on opportunities",
		Long: `Toggle the "` + consultationFeeCredit + `" value in the Discounts field of
opportunities that have Services set: opportunities carrying the credit
lose it, the rest gain it. Only opportunities untouched for the last few
minutes are picked up, so in-flight edits are left alone.`,
		RunE: runToggleDiscounts,
	}

	cmd.Flags().IntVarP(&flagToggleMax, "max-opportunities", "n", 10, "maximum number of opportunities to update")
	cmd.Flags().IntVar(&flagToggleUpdatedBefore, "updated-before-minutes", 5, "only touch opportunities not updated in the last N minutes")

	rootCmd.AddCommand(cmd)
}

func runToggleDiscounts(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	servicesID, err := client.CustomFieldIDByName(ctx, "opportunity", "Services")
	if err != nil {
		return err
	}
	discountsField, err := client.PrefixedCustomFieldID(ctx, "opportunity", "Discounts")
	if err != nil {
		return err
	}

	query := closeapi.And(
		closeapi.ObjectTypeQuery("opportunity"),
		closeapi.CustomFieldCondition(servicesID, closeapi.ExistsCondition()),
		closeapi.FieldCondition("opportunity", "status_type", closeapi.TermCondition("active")),
		closeapi.OlderThanMinutes("opportunity", "date_updated", flagToggleUpdatedBefore),
	)

	records, err := client.Search(ctx, query, closeapi.SearchOptions{
		Fields: map[string][]string{
			"opportunity": {"id", discountsField},
		},
		MaxResults: flagToggleMax,
	})
	if err != nil {
		return fmt.Errorf("search opportunities: %w", err)
	}

	if len(records) == 0 {
		log.Info().Msg("No opportunities to toggle")
		return nil
	}

	updates := buildDiscountToggles(records, discountsField)

	if flagDryRun {
		for _, update := range updates {
			log.Info().Str("endpoint", update.Endpoint).Msg("Dry run: would toggle discount")
		}
		return nil
	}

	ok, failed := client.PutAll(ctx, updates)
	log.Info().
		Int("updated", len(ok)).
		Int("failed", len(failed)).
		Msg("Discount toggle complete")

	if len(failed) > 0 {
		return fmt.Errorf("%d updates failed", len(failed))
	}
	return nil
}

// buildDiscountToggles flips the Consultation Fee Credit entry in each
// opportunity's Discounts list.
func buildDiscountToggles(records []json.RawMessage, discountsField string) []closeapi.Update {
	var updates []closeapi.Update

	for _, record := range records {
		var opp map[string]any
		if err := json.Unmarshal(record, &opp); err != nil {
			continue
		}
		id := stringField(opp, "id")
		if id == "" {
			continue
		}

		var current []string
		if raw, ok := opp[discountsField].([]any); ok {
			for _, item := range raw {
				if s, ok := item.(string); ok {
					current = append(current, s)
				}
			}
		}

		next := make([]string, 0, len(current)+1)
		found := false
		for _, discount := range current {
			if discount == consultationFeeCredit {
				found = true
				continue
			}
			next = append(next, discount)
		}
		if !found {
			next = append(next, consultationFeeCredit)
		}

		updates = append(updates, closeapi.Update{
			Endpoint: "opportunity/" + id,
			Payload:  map[string]any{discountsField: next},
		})
	}

	return updates
}
