package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/vietddude/curator/internal/core/config"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [url]",
	Short: "Fetch a remote item into the library through a running curator",
	Args:  cobra.ExactArgs(1),
	Run:   runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	payload, _ := json.Marshal(map[string]string{"url": args[0]})

	// Downloads can take a while; no client timeout here.
	client := &http.Client{}
	resp, err := client.Post(
		fmt.Sprintf("http://localhost:%d/ingest", cfg.Server.Port),
		"application/json", bytes.NewReader(payload))
	if err != nil {
		slog.Error("Failed to reach curator, is it running?", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		slog.Error("Ingest failed", "status", resp.StatusCode, "error", string(bytes.TrimSpace(msg)))
		os.Exit(1)
	}

	var body struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Uploader string `json:"uploader"`
		Duration string `json:"duration"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		slog.Error("Failed to decode response", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Ingested %s: %q by %s (%s)\n", body.ID, body.Title, body.Uploader, body.Duration)
}
