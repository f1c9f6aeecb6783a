package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listJobs(fmt.Sprintf("%s/api/v1/jobs", serverURL))
	}
	jobID := args[0]
	return getJobStatus(fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), jobID)
}

// jobStatus mirrors the fields of the server's job and status responses
// that are printed here.
type jobStatus struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Config struct {
		Objective   string `json:"objective"`
		Dim         int    `json:"dim"`
		Generations int    `json:"generations"`
		Seed        int64  `json:"seed"`
		CMA         struct {
			StepSize   float64 `json:"stepSize"`
			Population int     `json:"population"`
		} `json:"cma"`
	} `json:"config"`
	BestCost    float64   `json:"bestCost"`
	BestParams  []float64 `json:"bestParams"`
	InitialCost float64   `json:"initialCost"`
	Generation  int       `json:"generation"`
	Evaluations int       `json:"evaluations"`
	Sigma       float64   `json:"sigma"`
	Condition   float64   `json:"condition"`
	Stop        string    `json:"stop"`
	ResumedFrom int       `json:"resumedFrom"`
	Elapsed     float64   `json:"elapsed"`
	EvalsPerSec float64   `json:"evalsPerSec"`
	Error       string    `json:"error"`
}

func fetchJSON(url string, v interface{}) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(url string) error {
	var jobs []jobStatus
	if _, err := fetchJSON(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tSTATE\tOBJECTIVE\tGENERATION\tBEST COST")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s/%d\t%d/%d\t%.6g\n",
			job.ID, job.State,
			job.Config.Objective, job.Config.Dim,
			job.Generation, job.Config.Generations,
			job.BestCost,
		)
	}
	w.Flush()

	fmt.Printf("\nFound %d job(s)\n", len(jobs))
	return nil
}

func getJobStatus(url, jobID string) error {
	var status jobStatus
	code, err := fetchJSON(url, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}

	// Display status
	fmt.Printf("Job: %s\n", status.ID)
	fmt.Printf("State: %s\n", status.State)
	if status.Stop != "" {
		fmt.Printf("Stop reason: %s\n", status.Stop)
	}
	fmt.Println()

	fmt.Println("Configuration:")
	fmt.Printf("  Objective: %s\n", status.Config.Objective)
	fmt.Printf("  Dimension: %d\n", status.Config.Dim)
	fmt.Printf("  Generations: %d\n", status.Config.Generations)
	fmt.Printf("  Step size: %g\n", status.Config.CMA.StepSize)
	if status.Config.CMA.Population > 0 {
		fmt.Printf("  Population: %d\n", status.Config.CMA.Population)
	} else {
		fmt.Println("  Population: derived")
	}
	fmt.Printf("  Seed: %d\n", status.Config.Seed)
	fmt.Println()

	fmt.Println("Progress:")
	fmt.Printf("  Generation: %d\n", status.Generation)
	if status.ResumedFrom > 0 {
		fmt.Printf("  Resumed from: %d\n", status.ResumedFrom)
	}
	fmt.Printf("  Evaluations: %d\n", status.Evaluations)
	fmt.Printf("  Initial Cost: %.6g\n", status.InitialCost)
	fmt.Printf("  Best Cost: %.6g\n", status.BestCost)
	if status.InitialCost > 0 {
		improvement := status.InitialCost - status.BestCost
		fmt.Printf("  Improvement: %.6g (%.1f%%)\n", improvement, improvement/status.InitialCost*100)
	}
	fmt.Printf("  Sigma: %.4g\n", status.Sigma)
	fmt.Printf("  Condition: %.4g\n", status.Condition)

	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Printf("  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if status.EvalsPerSec > 0 {
		fmt.Printf("  Throughput: %.0f evals/sec\n", status.EvalsPerSec)
	}

	if status.Error != "" {
		fmt.Printf("\nError: %s\n", status.Error)
	}

	return nil
}
