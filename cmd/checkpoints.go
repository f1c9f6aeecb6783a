package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cwbudde/cmaes/internal/store"
)

var (
	keepLast      int
	olderThanDays int
	forceClean    bool
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Manage optimization checkpoints",
	Long: `Manage optimization checkpoints including listing and cleaning old checkpoints.
Checkpoints allow resuming long-running optimizations from saved state.`,
}

var listCheckpointsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all available checkpoints",
	Long:  `Display all checkpoints with metadata including job ID, timestamp, generation, cost, step size and size on disk.`,
	RunE:  runListCheckpoints,
}

var cleanCheckpointsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old checkpoints",
	Long: `Delete old checkpoints based on retention policy.
You can keep only the newest N checkpoints or delete checkpoints older than N days.
Deleting a checkpoint also removes the job's trace.`,
	RunE: runCleanCheckpoints,
}

func init() {
	// Add checkpoints command to root
	rootCmd.AddCommand(checkpointsCmd)

	// Add subcommands
	checkpointsCmd.AddCommand(listCheckpointsCmd)
	checkpointsCmd.AddCommand(cleanCheckpointsCmd)

	// Clean command flags
	cleanCheckpointsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N checkpoints (0 = keep all)")
	cleanCheckpointsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete checkpoints older than N days (0 = no age limit)")
	cleanCheckpointsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func shortID(jobID string) string {
	if len(jobID) > 12 {
		return jobID[:12] + "..."
	}
	return jobID
}

func runListCheckpoints(cmd *cobra.Command, args []string) error {
	checkpointStore, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	infos, err := checkpointStore.ListCheckpoints()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No checkpoints found.")
		return nil
	}

	sz, hasSize := checkpointStore.(sizer)

	// Display checkpoints in a table
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tAGE\tOBJECTIVE\tGENERATION\tBEST COST\tSIGMA\tSIZE")
	fmt.Fprintln(w, "------\t---\t---------\t----------\t---------\t-----\t----")

	for _, info := range infos {
		sizeStr := "-"
		if hasSize {
			if size, err := sz.Size(info.JobID); err == nil {
				sizeStr = humanize.IBytes(uint64(size))
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%s/%d\t%d\t%.6g\t%.3g\t%s\n",
			shortID(info.JobID),
			humanize.Time(info.Timestamp),
			info.Objective,
			info.Dim,
			info.Generation,
			info.BestCost,
			info.Sigma,
			sizeStr,
		)
	}

	w.Flush()

	fmt.Printf("\nTotal checkpoints: %d\n", len(infos))
	return nil
}

func runCleanCheckpoints(cmd *cobra.Command, args []string) error {
	// Validate flags
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}
	if keepLast < 0 || olderThanDays < 0 {
		return fmt.Errorf("--keep-last and --older-than cannot be negative")
	}

	checkpointStore, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	infos, err := checkpointStore.ListCheckpoints()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No checkpoints to clean.")
		return nil
	}

	olderThan := time.Duration(olderThanDays) * 24 * time.Hour
	toDelete := store.SelectForDeletion(infos, keepLast, olderThan, time.Now())

	if len(toDelete) == 0 {
		fmt.Println("No checkpoints match deletion criteria.")
		return nil
	}

	// Show what will be deleted
	fmt.Printf("Found %d checkpoint(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Printf("  - %s (generation %d, %s)\n",
			shortID(info.JobID),
			info.Generation,
			info.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}

	// Ask for confirmation unless --force is set
	if !forceClean {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := checkpointStore.DeleteCheckpoint(info.JobID); err != nil {
			slog.Error("Failed to delete checkpoint", "job_id", info.JobID, "error", err)
			failed++
			continue
		}
		// Badger keeps traces on disk next to the database
		if _, isFS := checkpointStore.(*store.FSStore); !isFS {
			if err := store.DeleteTrace(dataDir, info.JobID); err != nil {
				slog.Warn("Failed to delete trace", "job_id", info.JobID, "error", err)
			}
		}
		slog.Info("Deleted checkpoint", "job_id", info.JobID)
		deleted++
	}

	fmt.Printf("\nDeleted %d checkpoint(s), %d failed.\n", deleted, failed)
	return nil
}
