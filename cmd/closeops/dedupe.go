package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/bariendo/close-ops/pkg/closeapi"
	"github.com/bariendo/close-ops/pkg/export"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var flagDedupeMerge bool

func init() {
	cmd := &cobra.Command{
		Use:   "dedupe-leads",
		Short: "Find duplicate leads by contact email",
		Long: `Group leads sharing a contact email address and report the duplicate
groups. With --merge, merge each group into its oldest lead; the others
are absorbed by Close's lead merge, which moves contacts, opportunities,
and activities onto the surviving lead.`,
		RunE: runDedupeLeads,
	}

	cmd.Flags().BoolVar(&flagDedupeMerge, "merge", false, "merge each duplicate group into its oldest lead")

	rootCmd.AddCommand(cmd)
}

func runDedupeLeads(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	params := url.Values{}
	params.Set("_fields", "id,display_name,date_created,contacts")
	records, err := client.GetAll(ctx, "lead", closeapi.ListOptions{Params: params})
	if err != nil {
		return fmt.Errorf("fetch leads: %w", err)
	}

	groups := groupLeadsByEmail(records)
	if len(groups) == 0 {
		log.Info().Int("leads", len(records)).Msg("No duplicate leads found")
		return nil
	}

	out := cmd.OutOrStdout()
	for _, group := range groups {
		fmt.Fprintf(out, "%s (%d leads):\n", group.Email, len(group.Leads))
		for _, lead := range group.Leads {
			fmt.Fprintf(out, "  %s  %s  created %s\n", lead.ID, lead.DisplayName, lead.DateCreated)
		}
	}
	reportPath := export.Path(cfg.Export.Dir, "duplicate_leads", cfg.Env, "csv")
	if err := export.WriteCSV(reportPath, dupReportHeader, dupReportRows(groups)); err != nil {
		return err
	}
	log.Info().
		Int("leads", len(records)).
		Int("duplicate_groups", len(groups)).
		Msg("Duplicate scan complete")

	if !flagDedupeMerge {
		return nil
	}

	merges := buildMerges(groups)
	if flagDryRun {
		for _, merge := range merges {
			payload := merge.Payload.(map[string]any)
			log.Info().
				Str("source", payload["source"].(string)).
				Str("destination", payload["destination"].(string)).
				Msg("Dry run: would merge lead")
		}
		return nil
	}

	ok, failed := client.PostAll(ctx, merges)
	log.Info().
		Int("merged", len(ok)).
		Int("failed", len(failed)).
		Msg("Lead merge complete")

	if len(failed) > 0 {
		return fmt.Errorf("%d merges failed", len(failed))
	}
	return nil
}

// dupLead is one lead inside a duplicate group.
type dupLead struct {
	ID          string
	DisplayName string
	DateCreated string
}

// dupGroup is a set of leads sharing a contact email.
type dupGroup struct {
	Email string
	Leads []dupLead // sorted oldest first
}

// groupLeadsByEmail indexes leads by their contacts' email addresses and
// returns the groups with more than one lead, oldest lead first within each
// group and groups ordered by email for stable output.
func groupLeadsByEmail(records []json.RawMessage) []dupGroup {
	byEmail := make(map[string][]dupLead)

	for _, record := range records {
		var lead struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
			DateCreated string `json:"date_created"`
			Contacts    []struct {
				Emails []struct {
					Email string `json:"email"`
				} `json:"emails"`
			} `json:"contacts"`
		}
		if err := json.Unmarshal(record, &lead); err != nil || lead.ID == "" {
			continue
		}

		seen := make(map[string]bool)
		for _, contact := range lead.Contacts {
			for _, email := range contact.Emails {
				addr := strings.ToLower(strings.TrimSpace(email.Email))
				if addr == "" || seen[addr] {
					continue
				}
				seen[addr] = true
				byEmail[addr] = append(byEmail[addr], dupLead{
					ID:          lead.ID,
					DisplayName: lead.DisplayName,
					DateCreated: lead.DateCreated,
				})
			}
		}
	}

	var groups []dupGroup
	for email, leads := range byEmail {
		if len(leads) < 2 {
			continue
		}
		sort.Slice(leads, func(i, j int) bool {
			return leads[i].DateCreated < leads[j].DateCreated
		})
		groups = append(groups, dupGroup{Email: email, Leads: leads})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Email < groups[j].Email
	})
	return groups
}

var dupReportHeader = []string{"email", "lead_id", "display_name", "date_created"}

// dupReportRows flattens duplicate groups into CSV rows, one row per lead.
func dupReportRows(groups []dupGroup) [][]string {
	var rows [][]string
	for _, group := range groups {
		for _, lead := range group.Leads {
			rows = append(rows, []string{group.Email, lead.ID, lead.DisplayName, lead.DateCreated})
		}
	}
	return rows
}

// buildMerges merges every duplicate in a group into the group's oldest
// lead.
func buildMerges(groups []dupGroup) []closeapi.Update {
	var merges []closeapi.Update
	for _, group := range groups {
		destination := group.Leads[0].ID
		for _, lead := range group.Leads[1:] {
			merges = append(merges, closeapi.Update{
				Endpoint: "lead/merge",
				Payload: map[string]any{
					"source":      lead.ID,
					"destination": destination,
				},
			})
		}
	}
	return merges
}
