// Package main hosts the zzpscan service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes job submission and control, the
//     business catalog, check history, health, and Prometheus metrics. Job
//     requests are validated, persisted via the JobStore, and handed to the
//     dispatcher before the 202 response returns.
//   - Lifecycle: internal/lifecycle.Manager owns the job state machine
//     (pending/running/completed/failed/cancelled), progress snapshots, the
//     retry budget, and optional Pub/Sub lifecycle events.
//   - Dispatch: internal/dispatch runs one goroutine per job with a
//     cancellable context; cancellation is cooperative and an optional
//     watchdog timeout bounds runaway jobs.
//   - Executors: discovery jobs create businesses from a source behind the
//     catalog.Discoverer interface (currently a deterministic generator),
//     website-check jobs resolve and fetch candidate domains through the
//     probe client and persist one check row plus a cache update per
//     business, and enrichment jobs normalize stored records.
//   - Persistence: Postgres via pgx (schema in internal/storage/postgres)
//     or in-memory stores for development; response snapshots can be
//     archived to GCS.
//   - Configuration & plumbing: Viper populates config from file/env
//     (ZZPSCAN_ prefix); zap provides structured logging; Prometheus
//     collectors track jobs, probe traffic, and HTTP requests.
//
// Run locally: go run ./cmd/zzpscan -config config.yaml (or rely solely on
// env overrides). The process reacts to SIGTERM with a graceful HTTP drain
// and waits for in-flight jobs before exiting.
package main
