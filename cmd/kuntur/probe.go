package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kuntur/kuntur/internal/camera"
)

type probeResult struct {
	Camera string            `json:"camera"`
	Path   string            `json:"path,omitempty"`
	Error  string            `json:"error,omitempty"`
	Status map[string]string `json:"status,omitempty"`
	URLs   camera.URLs       `json:"urls"`
}

var probeCmd = &cobra.Command{
	Use:   "probe [camera]",
	Short: "Check which camera endpoint answers",
	Long: `Probe sends HEAD requests to the camera's candidate paths in order and
reads its status document. The camera defaults to camera.url or the
registered profile.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		target := cfg.Camera.URL
		if len(args) == 1 {
			target = args[0]
		}
		if target == "" {
			p, err := newRegistrar(cfg, logger).Restore()
			if err != nil {
				return err
			}
			if p != nil {
				target = p.CameraIP
			}
		}
		if target == "" {
			return errors.New("no camera given and no storefront registered")
		}

		ep, err := camera.ParseEndpoint(target)
		if err != nil {
			return err
		}
		cl := camera.NewClient(ep, camera.ClientOptions{
			ProbeTimeout:  cfg.Camera.ProbeTimeout,
			StatusTimeout: cfg.Camera.StatusTimeout,
			Logger:        logger,
		})

		res := probeResult{Camera: ep.String(), URLs: ep.URLs()}
		path, perr := cl.Probe(cmd.Context())
		if perr != nil {
			res.Error = perr.Error()
			var pe *camera.ProbeError
			if errors.As(perr, &pe) {
				res.Error = pe.Diagnostic()
			}
		} else {
			res.Path = path
			if st, err := cl.Status(cmd.Context()); err == nil {
				res.Status = st.Summary()
			}
		}

		if jsonOutput {
			if err := printJSON(res); err != nil {
				return err
			}
		} else {
			printProbe(res)
		}
		if perr != nil {
			return fmt.Errorf("camera %s did not answer", ep)
		}
		return nil
	},
}

func printProbe(res probeResult) {
	fmt.Printf("Camera:  %s\n", res.Camera)
	if res.Error != "" {
		fmt.Printf("Probe:   failed\n%s\n", res.Error)
		return
	}
	fmt.Printf("Probe:   ok (%s)\n", res.Path)
	fmt.Printf("Snapshot %s\n", res.URLs.Snapshot)
	keys := make([]string, 0, len(res.Status))
	for k := range res.Status {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-16s %s\n", k, res.Status[k])
	}
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
