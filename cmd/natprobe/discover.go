package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"natprobe/internal/stunutil"
)

type cmdDiscover struct {
	global *cmdGlobal

	flagAll bool
}

func (c *cmdDiscover) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Query the STUN servers for this host's external address",
		RunE:  c.Run,
	}

	cmd.Flags().BoolVar(&c.flagAll, "all", false, "query every configured server and classify the NAT")

	return cmd
}

func (c *cmdDiscover) Run(cmd *cobra.Command, args []string) error {
	cfg, err := c.global.load()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	return c.discover(ctx, os.Stdout, cfg.Discovery.Servers, cfg.Discovery.QueryTimeout())
}

func (c *cmdDiscover) discover(ctx context.Context, w io.Writer, servers []string, timeout time.Duration) error {
	if !c.flagAll {
		client := stunutil.NewClient(servers, timeout)
		addr, err := client.Discover(ctx)
		if err != nil {
			return fmt.Errorf("discover via %s: %w", client.Server(), err)
		}
		fmt.Fprintf(w, "server=%s public_addr=%s\n", client.Server(), addr)
		return nil
	}

	addr, nat, err := stunutil.Probe(ctx, servers, timeout)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "public_addr=%s nat_type=%s\n", addr, nat)
	return nil
}
