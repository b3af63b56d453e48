package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowsmith-ai/flowsmith/internal/adapters/state"
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export a slot pool snapshot",
	Long: `Write a JSON snapshot of the tenant slot pool to a file.

The file is written atomically, so a snapshot read concurrently is
always complete.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	path := "flowsmith-slots.json"
	if len(args) > 0 {
		path = args[0]
	}

	ctx := cmd.Context()
	store, err := state.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	snapshot, err := state.ExportSnapshot(ctx, store, path)
	if err != nil {
		return fmt.Errorf("exporting snapshot: %w", err)
	}

	fmt.Printf("Exported %d slots to %s\n", len(snapshot.Slots), path)
	return nil
}
