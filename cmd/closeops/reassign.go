package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/bariendo/close-ops/pkg/closeapi"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reassign OWNER",
		Short: "Interactively reassign or delete a user's active opportunities",
		Long: `Walk through every active opportunity owned by OWNER (a user id, email,
or "First Last" name) and decide per opportunity whether to hand it to
the lead's Patient Navigator, leave it alone, or delete it.

Answer y to reassign, n to skip, or type DELETE to delete.`,
		Args: cobra.ExactArgs(1),
		RunE: runReassign,
	}

	rootCmd.AddCommand(cmd)
}

func runReassign(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	owner, err := client.FindUser(ctx, args[0])
	if err != nil {
		return err
	}

	users, err := client.Users(ctx)
	if err != nil {
		return err
	}
	usersByID := make(map[string]closeapi.User, len(users))
	for _, user := range users {
		usersByID[user.ID] = user
	}

	navigatorField, err := client.PrefixedCustomFieldID(ctx, "lead", patientNavigatorFieldName)
	if err != nil {
		return err
	}

	query := closeapi.HasRelated("lead", "opportunity", closeapi.And(
		closeapi.FieldCondition("opportunity", "user_id",
			closeapi.ReferenceCondition("user_or_group", owner.ID)),
		closeapi.FieldCondition("opportunity", "status_type", closeapi.TermCondition("active")),
	), false)

	records, err := client.Search(ctx, query, closeapi.SearchOptions{
		Fields: map[string][]string{
			"lead": {"id", "display_name", "opportunities", navigatorField},
		},
		Sort: []map[string]any{{
			"field": map[string]any{
				"object_type": "lead",
				"type":        "regular_field",
				"field_name":  "last_opportunity_won_date_won",
			},
			"direction": "asc",
		}},
	})
	if err != nil {
		return fmt.Errorf("search opportunities for %s: %w", owner.Email, err)
	}

	if len(records) == 0 {
		log.Info().Str("owner", owner.Email).Msg("No leads with active opportunities found")
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Found %d leads with active opportunities owned by %s.\n", len(records), owner.Email)

	// One reader for the whole session: a second bufio.Reader over the same
	// stream would lose lines already buffered by the first.
	in := bufio.NewReader(cmd.InOrStdin())

	updates, deletions, err := collectReassignments(records, reassignContext{
		ownerID:        owner.ID,
		navigatorField: navigatorField,
		usersByID:      usersByID,
	}, in, out)
	if err != nil {
		return err
	}

	if len(updates) == 0 && len(deletions) == 0 {
		fmt.Fprintln(out, "Nothing to do.")
		return nil
	}

	if flagDryRun {
		for _, update := range updates {
			log.Info().Str("endpoint", update.Endpoint).Msg("Dry run: would reassign")
		}
		for _, endpoint := range deletions {
			log.Info().Str("endpoint", endpoint).Msg("Dry run: would delete")
		}
		return nil
	}

	if len(updates) > 0 {
		if confirm(in, out, fmt.Sprintf("Proceed with %d reassignments?", len(updates))) {
			ok, failed := client.PutAll(ctx, updates)
			fmt.Fprintf(out, "Reassigned %d opportunities, %d failed.\n", len(ok), len(failed))
			for _, f := range failed {
				log.Error().Str("endpoint", f.Endpoint).Err(f.Err).Msg("Reassignment failed")
			}
		}
	}

	if len(deletions) > 0 {
		if confirm(in, out, fmt.Sprintf("Proceed with %d deletions?", len(deletions))) {
			deleted, failed := client.DeleteAll(ctx, deletions)
			fmt.Fprintf(out, "Deleted %d opportunities, %d failed.\n", len(deleted), len(failed))
			for _, f := range failed {
				log.Error().Str("endpoint", f.Endpoint).Err(f.Err).Msg("Deletion failed")
			}
		}
	}

	return nil
}

// reassignContext carries the resolved ids needed during the review loop.
type reassignContext struct {
	ownerID        string
	navigatorField string
	usersByID      map[string]closeapi.User
}

// collectReassignments walks the leads and prompts per active opportunity
// owned by the current owner. Leads whose Patient Navigator field is empty,
// invalid, unknown, or the current owner are skipped without prompting.
func collectReassignments(records []json.RawMessage, rc reassignContext, in *bufio.Reader, out io.Writer) (updates []closeapi.Update, deletions []string, err error) {
	for index, record := range records {
		var lead map[string]any
		if err := json.Unmarshal(record, &lead); err != nil {
			log.Warn().Err(err).Msg("Skipping undecodable lead record")
			continue
		}

		leadID := stringField(lead, "id")
		opportunities := ownerActiveOpportunities(lead, rc.ownerID)
		if len(opportunities) == 0 {
			continue
		}

		fmt.Fprintln(out, strings.Repeat("-", 80))
		fmt.Fprintf(out, "Lead %d of %d\n", index+1, len(records))
		fmt.Fprintf(out, "  Name: %s\n", stringField(lead, "display_name"))
		fmt.Fprintf(out, "  URL: https://app.close.com/lead/%s/\n", leadID)

		newOwnerID := stringField(lead, rc.navigatorField)
		switch {
		case newOwnerID == "":
			fmt.Fprintf(out, "  Skipping: %s field is empty.\n", patientNavigatorFieldName)
			continue
		case !strings.HasPrefix(newOwnerID, "user_"):
			fmt.Fprintf(out, "  Skipping: %q is not a valid user id.\n", newOwnerID)
			continue
		case newOwnerID == rc.ownerID:
			fmt.Fprintln(out, "  Skipping: new owner is the current owner.")
			continue
		}

		newOwner, ok := rc.usersByID[newOwnerID]
		if !ok {
			fmt.Fprintf(out, "  Skipping: no user with id %q.\n", newOwnerID)
			continue
		}
		fmt.Fprintf(out, "  %s: %s (%s)\n", patientNavigatorFieldName, newOwner.DisplayName(), newOwner.Email)

		for i, opp := range opportunities {
			fmt.Fprintf(out, "  Opportunity %d of %d\n", i+1, len(opportunities))
			fmt.Fprintf(out, "    ID: %s\n", stringField(opp, "id"))
			fmt.Fprintf(out, "    Value: %s\n", stringField(opp, "value_formatted"))
			if note := stringField(opp, "note"); note != "" {
				fmt.Fprintf(out, "    Note: %s\n", note)
			}

			for {
				fmt.Fprintf(out, "    Change owner to %s? (y/n/DELETE): ", newOwner.Email)
				line, readErr := in.ReadString('\n')
				if readErr != nil && line == "" {
					return updates, deletions, fmt.Errorf("read decision: %w", readErr)
				}
				decision := strings.TrimSpace(line)

				if decision == "y" {
					updates = append(updates, closeapi.Update{
						Endpoint: "opportunity/" + stringField(opp, "id"),
						Payload:  map[string]any{"user_id": newOwnerID},
					})
					break
				}
				if decision == "n" {
					break
				}
				if decision == "DELETE" {
					deletions = append(deletions, "opportunity/"+stringField(opp, "id"))
					break
				}
				fmt.Fprintln(out, "    Invalid input. Enter y, n, or DELETE.")
			}
		}
	}

	return updates, deletions, nil
}

// ownerActiveOpportunities filters a lead's embedded opportunities down to
// the active ones owned by the given user.
func ownerActiveOpportunities(lead map[string]any, ownerID string) []map[string]any {
	raw, _ := lead["opportunities"].([]any)

	var matched []map[string]any
	for _, item := range raw {
		opp, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if stringField(opp, "user_id") == ownerID && stringField(opp, "status_type") == "active" {
			matched = append(matched, opp)
		}
	}
	return matched
}

// confirm asks a yes/no question and returns true on "y". It must share the
// session's reader so answers are not lost to another reader's buffer.
func confirm(in *bufio.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s (y/n): ", question)
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(strings.ToLower(line)) == "y"
}
