package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/casetrace/casetrace/internal/config"
	"github.com/casetrace/casetrace/internal/home"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the casetrace home directory and default config",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		if h.ConfigExists() {
			fmt.Printf("Config already exists at %s\n", h.ConfigPath())
			return nil
		}
		if err := config.WriteDefault(h.ConfigPath()); err != nil {
			return err
		}
		fmt.Printf("Initialized %s\n", h.Path())
		fmt.Printf("Wrote default config to %s\n", h.ConfigPath())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
