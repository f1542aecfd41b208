package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Manage rooms",
}

var roomNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Ask the server for a fresh room id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		id, err := newRoom(httpBase(cfg.ServerURL))
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

func init() {
	roomCmd.AddCommand(roomNewCmd)
}

// httpBase turns the websocket base url into its http equivalent.
func httpBase(serverURL string) string {
	u := strings.TrimRight(serverURL, "/")
	switch {
	case strings.HasPrefix(u, "wss://"):
		return "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		return "http://" + strings.TrimPrefix(u, "ws://")
	}
	return u
}

func newRoom(base string) (string, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(base+"/api/rooms", "application/json", nil)
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create room: unexpected status %s", resp.Status)
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	return body.ID, nil
}
