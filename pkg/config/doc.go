// Package config defines the hit collector configuration surface.
//
// The recognized options are the ones the host glue exposes to users:
//
//	output_destination: output/hits.arrow      # path, s3://bucket/key or gs://bucket/object
//	hit_attribute_names: [TotalEnergyDeposit, PostPosition]
//	clear_every_n_events: 1000                 # 0 disables periodic clearing
//	debug: false
//
// plus output, logging, metrics and tracing sections. Configuration files are
// loaded with viper, so every key can be overridden from the environment with
// the GATEHITS_ prefix (GATEHITS_CLEAR_EVERY_N_EVENTS=50,
// GATEHITS_OUTPUT_FORMAT=parquet). ${VAR} references inside the file are
// expanded before parsing.
//
// Validate performs every check that does not touch storage. Writability of
// the destination is probed by the output sink when the simulation starts.
package config
