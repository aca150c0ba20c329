package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect the service config"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config (file merged over defaults)",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := loadManager()
			if err != nil {
				return err
			}
			return printJSONOrTable(mgr.Get())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadManager()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cmd
}
