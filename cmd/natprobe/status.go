package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"natprobe/internal/api"
	"natprobe/internal/model"
)

type cmdStatus struct {
	global *cmdGlobal

	flagAddr string
}

func (c *cmdStatus) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the live status of a running session",
		RunE:  c.Run,
	}

	cmd.Flags().StringVar(&c.flagAddr, "addr", "", "status server address (defaults to status_listen)")

	return cmd
}

func (c *cmdStatus) Run(cmd *cobra.Command, args []string) error {
	cfg, err := c.global.load()
	if err != nil {
		return err
	}
	addr := cfg.StatusListen
	if c.flagAddr != "" {
		addr = c.flagAddr
	}
	if addr == "" {
		return fmt.Errorf("status server address required (--addr or status_listen)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := api.NewClient(addr).Status(ctx)
	if err != nil {
		return err
	}

	s := st.State
	fmt.Fprintf(os.Stdout, "session=%s started=%s deadline=%s\n", s.SessionID, s.StartTime.UTC().Format(time.RFC3339), s.Deadline.UTC().Format(time.RFC3339))
	fmt.Fprintf(os.Stdout, "attempts=%d/%d recorded=%d success=%t bootstrapped=%t\n", s.AttemptsMade, s.MaxAttempts, st.Attempts, s.Success, s.Bootstrapped)

	active := 0
	for _, rec := range st.Registry.Nodes {
		if rec.Status == model.StatusActive {
			active++
		}
	}
	fmt.Fprintf(os.Stdout, "bootstrap peers=%d active=%d\n", len(st.Registry.Nodes), active)

	for _, rec := range st.Last {
		fmt.Fprintf(os.Stdout, "%-20s  %-8s  %-52s  %s\n", rec.Timestamp.UTC().Format(time.RFC3339), rec.Outcome, rec.PeerID, rec.ErrorDetail)
	}
	return nil
}
