// Package lifecycle implements the application state machine.
//
// Every change to an ApplicationRecord goes through Machine.Apply, a total function of
// (current state, event) that returns the next record and the history entry to persist.
// Retries are explicit: a retryable failure records an attempt counter and the next eligible
// time, and only a Retry event after that time resumes the pipeline.
package lifecycle
