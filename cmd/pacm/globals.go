package main

// Globals carries flags shared across every subcommand, following the
// teacher's cmd/globals.Globals shape (a small struct embedded into the
// root CLI and passed by pointer into each Run method). Each optional
// collaborator (the S3 store mirror, the cache-index persister,
// a non-default registry origin) is opt-in via its own flag/env var,
// following the teacher's `env:"..."` tag convention
// (SPEC_FULL.md §10's "Configuration").
type Globals struct {
	Verbose           bool   `help:"Enable debug logging" short:"v"`
	MetricsListenAddr string `name:"metrics-listen-addr" help:"Address to serve Prometheus metrics on; empty disables the metrics server" env:"PACM_METRICS_LISTEN_ADDR" default:""`
	RegistryURL       string `name:"registry-url" help:"Override the registry origin" env:"PACM_REGISTRY_URL" default:""`

	CacheIndexDSN string `name:"cacheindex-dsn" help:"DSN persisting the cache index across process starts (sqlite path, or postgres://, or rqlite http(s)://); empty disables it" env:"PACM_CACHEINDEX_DSN" default:""`

	S3Bucket   string `name:"s3-bucket" help:"S3-compatible bucket to mirror store entries into; empty disables the mirror" env:"PACM_S3_BUCKET" default:""`
	S3Prefix   string `name:"s3-prefix" help:"Key prefix for S3 mirror uploads" env:"PACM_S3_PREFIX" default:""`
	S3Region   string `name:"s3-region" help:"Region for the S3 mirror" env:"PACM_S3_REGION" default:""`
	S3Endpoint string `name:"s3-endpoint" help:"Custom endpoint for an S3-compatible mirror" env:"PACM_S3_ENDPOINT" default:""`
}
