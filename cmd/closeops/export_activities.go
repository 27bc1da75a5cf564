package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bariendo/close-ops/pkg/export"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagActivityStart  string
	flagActivityEnd    string
	flagActivityOutput string
)

func init() {
	cmd := &cobra.Command{
		Use:   "export-activities TYPE",
		Short: "Export all instances of a custom activity type to JSON",
		Long: `Export every instance of a custom activity type (e.g. "Refund" or
"Intake Call") to a JSON file, optionally bounded by creation date.`,
		Args: cobra.ExactArgs(1),
		RunE: runExportActivities,
	}

	cmd.Flags().StringVar(&flagActivityStart, "start", "", "only include activities created on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flagActivityEnd, "end", "", "only include activities created before this date (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&flagActivityOutput, "output", "o", "", "output JSON path (default output/custom_activity-TYPE-ENV.json)")

	rootCmd.AddCommand(cmd)
}

func runExportActivities(cmd *cobra.Command, args []string) error {
	activityType := args[0]

	client, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	typeID, err := client.CustomActivityTypeID(ctx, activityType)
	if err != nil {
		return err
	}
	log.Debug().Str("activity_type", activityType).Str("type_id", typeID).Msg("Resolved custom activity type")

	instances, err := client.CustomActivityInstances(ctx, typeID, flagActivityStart, flagActivityEnd)
	if err != nil {
		return fmt.Errorf("fetch %s activities: %w", activityType, err)
	}

	if len(instances) == 0 {
		log.Info().Str("activity_type", activityType).Msg("No activity instances found")
		return nil
	}

	fieldNames, err := client.CustomFieldIDNameMapping(ctx, "activity")
	if err != nil {
		return err
	}
	readable := rewriteCustomKeys(instances, fieldNames)

	path := flagActivityOutput
	if path == "" {
		path = export.Path(cfg.Export.Dir, "custom_activity", cfg.Env, "json", activityType)
	}

	if flagDryRun {
		log.Info().
			Int("instances", len(readable)).
			Str("path", path).
			Msg("Dry run: would write activity export")
		return nil
	}

	return export.WriteJSON(path, readable)
}

// rewriteCustomKeys replaces "custom.cf_xxx" record keys with the field's
// human-readable name so the export can be read without the org schema at
// hand. Unknown field ids keep their raw key.
func rewriteCustomKeys(records []json.RawMessage, fieldNames map[string]string) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, record := range records {
		var fields map[string]any
		if err := json.Unmarshal(record, &fields); err != nil {
			continue
		}

		readable := make(map[string]any, len(fields))
		for key, value := range fields {
			if id, ok := strings.CutPrefix(key, "custom."); ok {
				if name, known := fieldNames[id]; known {
					readable[name] = value
					continue
				}
			}
			readable[key] = value
		}
		out = append(out, readable)
	}
	return out
}
