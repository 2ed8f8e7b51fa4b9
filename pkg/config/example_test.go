package config_test

import (
	"fmt"

	"github.com/ajitpratap0/gatehits/pkg/config"
)

// ExampleDefault demonstrates the defaults a collector starts from.
func ExampleDefault() {
	cfg := config.Default()

	fmt.Printf("Collection: %s\n", cfg.HitsCollectionName)
	fmt.Printf("Clear every: %d\n", cfg.ClearEveryNEvents)
	fmt.Printf("Format: %s\n", cfg.Output.Format)
	fmt.Printf("Merge: %s\n", cfg.Output.MergeMode)

	// Output:
	// Collection: Hits
	// Clear every: 0
	// Format: arrow
	// Merge: concat
}

// ExampleConfig_Validate shows the checks run before a simulation starts.
func ExampleConfig_Validate() {
	cfg := config.Default()
	cfg.OutputDestination = "output/hits.arrow"
	cfg.HitAttributeNames = []string{"TotalEnergyDeposit", "PostPosition", "TrackID"}
	cfg.ClearEveryNEvents = 1000

	if err := cfg.Validate(); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("Configuration is valid!")

	cfg.ClearEveryNEvents = -5
	fmt.Println(cfg.Validate())

	// Output:
	// Configuration is valid!
	// config: clear_every_n_events cannot be negative
}
