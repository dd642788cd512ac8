package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"membership/internal/transport"
)

func membersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members",
		Short: "List the group as seen by a running agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			var view transport.MembersResponse
			if err := getJSON(agentAddr, "/v1/members", &view); err != nil {
				return err
			}

			fmt.Printf("node %s, group of %d: %s\n",
				view.LocalID, len(view.Group), strings.Join(view.Group, ", "))
			for _, p := range view.Peers {
				fmt.Printf("  %-20s %-8s incarnation=%d addr=%s\n",
					p.ID, p.Status, p.Incarnation, p.Addr)
			}
			return nil
		},
	}
	return cmd
}

func ringCmd() *cobra.Command {
	var replicas int

	cmd := &cobra.Command{
		Use:   "ring [key]",
		Short: "Resolve key placement against a running agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/v1/ring?key=%s&replicas=%d", args[0], replicas)

			var view transport.RingResponse
			if err := getJSON(agentAddr, path, &view); err != nil {
				return err
			}

			fmt.Printf("%s -> %s", view.Key, view.Owner)
			if len(view.Replicas) > 1 {
				fmt.Printf(" (replicas: %s)", strings.Join(view.Replicas, ", "))
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().IntVarP(&replicas, "replicas", "n", 1, "number of placement candidates")
	return cmd
}

func getJSON(addr, path string, out any) error {
	url := addr
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("agent: %s", apiErr.Error)
		}
		return fmt.Errorf("agent returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
