// Package app is the orchestration layer.
//
// Orchestrator drives discovered job listings through the application
// lifecycle: dedup admission, company filter, match scoring, content
// generation and submission through the account lanes. StatusService applies
// external status changes, Reporter aggregates records, and Scheduler triggers
// runs on a cron schedule. Depends on domain interfaces, not adapters.
package app
