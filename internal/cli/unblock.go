package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/curator/internal/core/config"
	"github.com/vietddude/curator/internal/infra/fetch/credential"
)

var unblockCmd = &cobra.Command{
	Use:   "unblock",
	Short: "Clear the blocked flag on every credential after refreshing them",
	Run:   runUnblock,
}

func init() {
	rootCmd.AddCommand(unblockCmd)
}

func runUnblock(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(
		fmt.Sprintf("http://localhost:%d/credentials/unblock", cfg.Server.Port),
		"application/json", nil)
	if err != nil {
		slog.Error("Failed to reach curator, is it running?", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var body struct {
		Unblocked   bool                `json:"unblocked"`
		Credentials []credential.Report `json:"credentials"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		slog.Error("Failed to decode response", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Unblocked %d credentials\n", len(body.Credentials))
}
