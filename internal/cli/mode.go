package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var modeAddr string

var modeCmd = &cobra.Command{
	Use:   "mode [whitelist|all_enabled]",
	Short: "Show or change the tool access mode",
	Long: `Show or change the live tool access mode on a running daemon.
Without an argument the current mode is printed. The change takes effect on
the next turn's tool snapshot; calls already in flight are unaffected.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMode,
}

func init() {
	modeCmd.Flags().StringVar(&modeAddr, "addr", "127.0.0.1:8470", "admin server address")
	rootCmd.AddCommand(modeCmd)
}

func runMode(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	url := fmt.Sprintf("http://%s/admin/tool-access-mode", modeAddr)

	var resp *http.Response
	var err error

	if len(args) == 0 {
		resp, err = client.Get(url)
	} else {
		body, _ := json.Marshal(map[string]string{"tool_access_mode": args[0]})
		var req *http.Request
		req, err = http.NewRequestWithContext(cmd.Context(), http.MethodPut, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err = client.Do(req)
	}
	if err != nil {
		return fmt.Errorf("failed to reach admin server at %s: %w", modeAddr, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("admin server returned %d: %s", resp.StatusCode, payload)
	}

	var out struct {
		Mode string `json:"tool_access_mode"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return err
	}

	fmt.Printf("Tool access mode: %s\n", out.Mode)
	return nil
}
