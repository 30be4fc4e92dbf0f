package types

// RunMode determines which subsystems a process starts.
type RunMode string

const (
	// ModeAPI serves the HTTP surface only.
	ModeAPI RunMode = "api"
	// ModeScheduler runs the cron trigger map only.
	ModeScheduler RunMode = "scheduler"
	// ModeConsumer runs the migration-hint consumer only.
	ModeConsumer RunMode = "consumer"
	// ModeLocal runs everything in one process with the in-memory pubsub.
	ModeLocal RunMode = "local"
)
