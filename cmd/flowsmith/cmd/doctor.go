package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"

	"github.com/flowsmith-ai/flowsmith/internal/adapters/engine"
	"github.com/flowsmith-ai/flowsmith/internal/adapters/state"
	"github.com/flowsmith-ai/flowsmith/internal/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and connectivity",
	Long:  "Verify the configuration is valid and the store, engine, and host system are in working order.",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// minFreeDisk is the free-space floor below which the check warns.
const minFreeDisk = 500 << 20 // 500 MiB

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	allOk := true

	fmt.Println("Checking configuration...")
	fmt.Println()

	cfg, cfgPath, err := loadConfig()
	if err != nil {
		fmt.Printf("  ✗ configuration: %v\n", err)
		fmt.Println()
		fmt.Println("Fix the configuration before running the server.")
		return fmt.Errorf("configuration invalid")
	}
	if cfgPath != "" {
		fmt.Printf("  ✓ configuration valid (%s)\n", cfgPath)
	} else {
		fmt.Println("  ✓ configuration valid (defaults and environment)")
	}
	if cfg.Completer.Provider == "" {
		fmt.Println("  ○ no completion provider configured (keyword extraction only)")
	}
	fmt.Println()

	fmt.Println("Checking store...")
	fmt.Println()
	if ok := checkStore(ctx, cfg); !ok {
		allOk = false
	}
	fmt.Println()

	fmt.Println("Checking workflow engine...")
	fmt.Println()
	if ok := checkEngine(ctx, cfg); !ok {
		allOk = false
	}
	fmt.Println()

	fmt.Println("Checking host system...")
	fmt.Println()
	checkSystem()
	fmt.Println()

	if !allOk {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("All checks passed.")
	return nil
}

func checkStore(ctx context.Context, cfg *config.Config) bool {
	store, err := state.New(ctx, cfg.Storage)
	if err != nil {
		fmt.Printf("  ✗ store (%s): %v\n", cfg.Storage.Backend, err)
		return false
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		fmt.Printf("  ✗ store ping: %v\n", err)
		return false
	}

	slots, err := store.ListSlots(ctx)
	if err != nil {
		fmt.Printf("  ✗ slot pool: %v\n", err)
		return false
	}
	if len(slots) == 0 {
		fmt.Println("  ○ slot pool is empty; run 'flowsmith seed'")
	} else {
		free := 0
		for _, slot := range slots {
			if slot.Free() {
				free++
			}
		}
		fmt.Printf("  ✓ store reachable, %d/%d slots free\n", free, len(slots))
	}
	return true
}

func checkEngine(ctx context.Context, cfg *config.Config) bool {
	client := engine.NewClient(cfg.Engine.BaseURL,
		engine.WithAPIKey(cfg.Engine.APIKey),
		engine.WithTimeout(5*time.Second),
	)

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Health(healthCtx); err != nil {
		fmt.Printf("  ✗ engine at %s: %v\n", cfg.Engine.BaseURL, err)
		return false
	}
	fmt.Printf("  ✓ engine reachable at %s\n", cfg.Engine.BaseURL)
	return true
}

// checkSystem reports host resource headroom. Warnings only; a loaded
// host still works, just slowly.
func checkSystem() {
	if vm, err := mem.VirtualMemory(); err == nil {
		icon := "✓"
		if vm.UsedPercent > 90 {
			icon = "⚠"
		}
		fmt.Printf("  %s memory: %.0f%% used (%.1f GiB available)\n",
			icon, vm.UsedPercent, float64(vm.Available)/(1<<30))
	}
	if du, err := disk.Usage("."); err == nil {
		icon := "✓"
		if du.Free < minFreeDisk {
			icon = "⚠"
		}
		fmt.Printf("  %s disk: %.0f%% used (%.1f GiB free)\n",
			icon, du.UsedPercent, float64(du.Free)/(1<<30))
	}
}
