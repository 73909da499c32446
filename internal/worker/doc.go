// Package worker consumes render jobs from an AMQP queue.
//
// Each message names a project file and an output path. The worker runs one
// pipeline per job, at most max_concurrent_jobs at a time, with every job
// sharing a single render cache. Progress and outcomes are published as JSON
// status messages on the status queue, and every job also gets its own log
// file under <log_dir>/jobs.
package worker
