package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowsmith-ai/flowsmith/internal/adapters/state"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the tenant slot pool",
	Long: `Create the configured pool of tenant isolation slots.

Idempotent: existing slots and their assignments are left untouched, so
re-running after growing the configured pool only adds the new slots.`,
	RunE: runSeed,
}

var (
	seedProjects        int
	seedSlotsPerProject int
)

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().IntVar(&seedProjects, "projects", 0,
		"number of projects (overrides config)")
	seedCmd.Flags().IntVar(&seedSlotsPerProject, "slots-per-project", 0,
		"slots per project (overrides config)")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	projects := cfg.Slots.Projects
	if seedProjects > 0 {
		projects = seedProjects
	}
	slotsPerProject := cfg.Slots.SlotsPerProject
	if seedSlotsPerProject > 0 {
		slotsPerProject = seedSlotsPerProject
	}

	ctx := cmd.Context()
	store, err := state.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	if err := store.SeedSlots(ctx, projects, slotsPerProject); err != nil {
		return fmt.Errorf("seeding slot pool: %w", err)
	}

	slots, err := store.ListSlots(ctx)
	if err != nil {
		return err
	}
	assigned := 0
	for _, slot := range slots {
		if !slot.Free() {
			assigned++
		}
	}

	fmt.Printf("Slot pool: %d slots (%d projects x %d), %d assigned\n",
		len(slots), projects, slotsPerProject, assigned)
	return nil
}
