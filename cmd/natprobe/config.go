package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"natprobe/internal/config"
)

type cmdConfig struct {
	global *cmdGlobal
}

func (c *cmdConfig) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
	}

	var cmdInit = cmdConfigInit{global: c.global}
	cmd.AddCommand(cmdInit.Command())

	return cmd
}

type cmdConfigInit struct {
	global *cmdGlobal

	flagOut   string
	flagMode  string
	flagForce bool
}

func (c *cmdConfigInit) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file populated with the defaults",
		RunE:  c.Run,
	}

	cmd.Flags().StringVarP(&c.flagOut, "out", "o", "natprobe.yaml", "output file")
	cmd.Flags().StringVar(&c.flagMode, "mode", config.ModeCommunication, "session mode the defaults are taken from")
	cmd.Flags().BoolVar(&c.flagForce, "force", false, "overwrite an existing file")

	return cmd
}

func (c *cmdConfigInit) Run(cmd *cobra.Command, args []string) error {
	if !c.flagForce {
		if _, err := os.Stat(c.flagOut); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", c.flagOut)
		}
	}

	cfg := config.Config{Mode: c.flagMode}
	config.ApplyDefaults(&cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := config.Save(c.flagOut, cfg); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "wrote %s\n", c.flagOut)
	return nil
}
