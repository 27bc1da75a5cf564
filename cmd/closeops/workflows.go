package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bariendo/close-ops/pkg/closeapi"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var flagWorkflowName string

func init() {
	workflowsCmd := &cobra.Command{
		Use:   "workflows",
		Short: "List, pause, or resume workflow sequences",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow sequences and their schedule status",
		RunE:  runWorkflowsList,
	}

	pauseCmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause active workflow sequences",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowsToggle(cmd, "active", "paused")
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume paused workflow sequences",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowsToggle(cmd, "paused", "active")
		},
	}

	for _, cmd := range []*cobra.Command{pauseCmd, resumeCmd} {
		cmd.Flags().StringVar(&flagWorkflowName, "name", "", "only touch sequences whose name contains this substring")
	}

	workflowsCmd.AddCommand(listCmd, pauseCmd, resumeCmd)
	rootCmd.AddCommand(workflowsCmd)
}

// sequence is the subset of the Close sequence schema the commands need.
type sequence struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

func fetchSequences(cmd *cobra.Command) (*closeapi.Client, []sequence, error) {
	client, err := newClient()
	if err != nil {
		return nil, nil, err
	}

	records, err := client.GetAll(cmd.Context(), "sequence", closeapi.ListOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("fetch sequences: %w", err)
	}

	sequences := make([]sequence, 0, len(records))
	for _, record := range records {
		var seq sequence
		if err := json.Unmarshal(record, &seq); err != nil {
			log.Warn().Err(err).Msg("Skipping undecodable sequence")
			continue
		}
		sequences = append(sequences, seq)
	}
	return client, sequences, nil
}

func runWorkflowsList(cmd *cobra.Command, args []string) error {
	_, sequences, err := fetchSequences(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(sequences) == 0 {
		fmt.Fprintln(out, "No workflow sequences found.")
		return nil
	}
	for _, seq := range sequences {
		fmt.Fprintf(out, "%-12s %-8s %s\n", seq.ID, seq.Status, seq.Name)
	}
	return nil
}

func runWorkflowsToggle(cmd *cobra.Command, fromStatus, toStatus string) error {
	client, sequences, err := fetchSequences(cmd)
	if err != nil {
		return err
	}

	updates := buildSequenceUpdates(sequences, fromStatus, toStatus, flagWorkflowName)
	if len(updates) == 0 {
		log.Info().Str("from", fromStatus).Msg("No matching sequences to update")
		return nil
	}

	if flagDryRun {
		for _, update := range updates {
			log.Info().
				Str("endpoint", update.Endpoint).
				Str("to", toStatus).
				Msg("Dry run: would update sequence")
		}
		return nil
	}

	ok, failed := client.PutAll(cmd.Context(), updates)
	log.Info().
		Int("updated", len(ok)).
		Int("failed", len(failed)).
		Str("to", toStatus).
		Msg("Sequence update complete")

	if len(failed) > 0 {
		return fmt.Errorf("%d sequence updates failed", len(failed))
	}
	return nil
}

// buildSequenceUpdates selects sequences currently in fromStatus (optionally
// filtered by name substring, case-insensitive) and builds their status
// updates.
func buildSequenceUpdates(sequences []sequence, fromStatus, toStatus, nameFilter string) []closeapi.Update {
	filter := strings.ToLower(nameFilter)

	var updates []closeapi.Update
	for _, seq := range sequences {
		if seq.Status != fromStatus {
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(seq.Name), filter) {
			continue
		}
		updates = append(updates, closeapi.Update{
			Endpoint: "sequence/" + seq.ID,
			Payload:  map[string]any{"status": toStatus},
		})
	}
	return updates
}
