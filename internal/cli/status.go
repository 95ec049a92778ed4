package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/curator/internal/admission"
	"github.com/vietddude/curator/internal/core/config"
	"github.com/vietddude/curator/internal/infra/fetch/credential"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show library, credential and queue status of a running curator",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusResponse struct {
	Items       map[string]int               `json:"items"`
	Credentials []credential.Report          `json:"credentials"`
	Admission   []admission.CategorySnapshot `json:"admission"`
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/status", cfg.Server.Port))
	if err != nil {
		slog.Error("Failed to reach curator, is it running?", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		slog.Error("Failed to decode status", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)

	_, _ = fmt.Fprintln(w, "STATUS\tCOUNT")
	for st, n := range status.Items {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", st, n)
	}
	_ = w.Flush()

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CREDENTIAL\tUSED\tFAILS\tSCORE\tBLOCKED")
	for _, c := range status.Credentials {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%.0f\t%v\n", c.ID, c.UsageCount, c.FailCount, c.HealthScore, c.Blocked)
	}
	_ = w.Flush()

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CATEGORY\tRUNNING\tWAITING")
	for _, snap := range status.Admission {
		running := "-"
		if snap.Running != nil {
			running = fmt.Sprintf("requester %d", snap.Running.RequesterID)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", snap.Category, running, len(snap.Queue))
	}
	_ = w.Flush()
}
