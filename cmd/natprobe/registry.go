package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"natprobe/internal/store"
)

type cmdRegistry struct {
	global *cmdGlobal

	flagPath string
}

func (c *cmdRegistry) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Show the persisted bootstrap peer registry",
		RunE:  c.Run,
	}

	cmd.Flags().StringVar(&c.flagPath, "path", "", "registry file override")

	return cmd
}

func (c *cmdRegistry) Run(cmd *cobra.Command, args []string) error {
	cfg, err := c.global.load()
	if err != nil {
		return err
	}
	path := cfg.RegistryPath
	if c.flagPath != "" {
		path = c.flagPath
	}

	snap, err := store.LoadSnapshot(path)
	if err != nil {
		return err
	}
	if len(snap.Nodes) == 0 {
		fmt.Fprintln(os.Stdout, "no bootstrap peers recorded")
		return nil
	}

	fmt.Fprintf(os.Stdout, "updated %s\n", snap.LastUpdated.UTC().Format(time.RFC3339))
	fmt.Fprintf(os.Stdout, "%-8s  %-7s  %-7s  %-20s  %-52s  %s\n",
		"STATUS", "SUCCESS", "FAILURE", "LAST_SEEN", "PEER_ID", "ADDRESS")
	for _, rec := range snap.Nodes {
		lastSeen := ""
		if rec.LastSeen != nil {
			lastSeen = rec.LastSeen.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(os.Stdout, "%-8s  %-7d  %-7d  %-20s  %-52s  %s\n",
			rec.Status, rec.SuccessCount, rec.FailureCount, lastSeen, rec.PeerID, rec.Address)
	}
	return nil
}
