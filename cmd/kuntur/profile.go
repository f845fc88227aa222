package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect or clear the stored storefront profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		p, err := newRegistrar(cfg, logger).Restore()
		if err != nil {
			return err
		}
		if p == nil {
			fmt.Println("No storefront registered. Run 'kuntur register' first.")
			return nil
		}
		if jsonOutput {
			return printJSON(p)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintf(w, "NAME\t%s\n", p.LocalName)
		fmt.Fprintf(w, "CAMERA\t%s\n", p.CameraIP)
		fmt.Fprintf(w, "ADDRESS\t%s\n", p.Address)
		fmt.Fprintf(w, "LOCATION\t%.6f, %.6f\n", p.Latitude, p.Longitude)
		fmt.Fprintf(w, "REGISTERED\t%s\n", p.RegisteredAt.Local().Format("2006-01-02 15:04"))
		return w.Flush()
	},
}

var profileClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the stored profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if err := newRegistrar(cfg, logger).Clear(); err != nil {
			return err
		}
		fmt.Println("Profile cleared.")
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd, profileClearCmd)
	rootCmd.AddCommand(profileCmd)
}
