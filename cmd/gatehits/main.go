package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/gatehits/pkg/config"
	"github.com/ajitpratap0/gatehits/pkg/hits"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "gatehits",
		Short: "gatehits - thread-safe hit collection for multi-threaded transport simulations",
		Long: `gatehits collects per-step hit attributes from multi-threaded simulation workers,
spills them to disk every N events and merges them into one columnar output.`,
		SilenceUsage: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gatehits v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "attributes",
		Short: "List the built-in hit attributes",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range hits.CatalogueNames() {
				t, _ := hits.LookupAttribute(name)
				fmt.Printf("  %-30s %s\n", name, t)
			}
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "init-config <path>",
		Short: "Write a configuration file with every option set to its default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.OutputDestination = "output/hits.arrow"
			cfg.HitAttributeNames = []string{"TotalEnergyDeposit", "PostPosition", "TrackID", "EventID", "ParticleName"}
			cfg.ClearEveryNEvents = 1000
			if err := config.Save(args[0], cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", args[0])
			return nil
		},
	})

	root.AddCommand(newRunCommand())
	root.AddCommand(newVerifyCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
