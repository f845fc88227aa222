package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuntur/kuntur/internal/config"
	"github.com/kuntur/kuntur/internal/profile"
)

var reg profile.Registration

func newRegistrar(cfg *config.Config, logger *slog.Logger) *profile.Registrar {
	return profile.NewRegistrar(
		profile.NewFileStore(cfg.Profile.Path),
		profile.NewService(cfg.Profile.ServiceURL, cfg.Armed.Timeout),
		logger,
	)
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register the storefront and its camera",
	Long: `Register validates the storefront form, submits it to the registration
service (when profile.service_url is set) and stores the profile locally.
Without --address the address is looked up from the coordinates.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		if reg.Address == "" && cfg.Profile.GeocoderURL != "" && (reg.Latitude != 0 || reg.Longitude != 0) {
			geo := profile.NewGeocoder(cfg.Profile.GeocoderURL, 10*time.Second)
			addr, err := geo.Reverse(ctx, reg.Latitude, reg.Longitude)
			if err != nil {
				logger.Warn("reverse geocoding failed", "error", err)
			} else {
				reg.Address = addr
			}
		}

		r := newRegistrar(cfg, logger)
		p, err := r.Register(ctx, reg)
		if err != nil {
			var verr *profile.ValidationError
			if errors.As(err, &verr) {
				return fmt.Errorf("invalid %s: %s", verr.Field, verr.Reason)
			}
			return err
		}

		if jsonOutput {
			return printJSON(p)
		}
		fmt.Printf("Registered %q with camera %s\n", p.LocalName, p.CameraIP)
		return nil
	},
}

func init() {
	f := registerCmd.Flags()
	f.StringVar(&reg.LocalName, "name", "", "storefront name")
	f.StringVar(&reg.CameraIP, "camera", "", "camera address (host:port)")
	f.StringVar(&reg.Address, "address", "", "street address")
	f.Float64Var(&reg.Latitude, "lat", 0, "latitude")
	f.Float64Var(&reg.Longitude, "lon", 0, "longitude")
	f.StringVar(&reg.Password, "password", "", "account password")
	registerCmd.MarkFlagRequired("name")
	registerCmd.MarkFlagRequired("camera")
	rootCmd.AddCommand(registerCmd)
}
