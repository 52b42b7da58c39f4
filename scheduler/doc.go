// Package scheduler provides the two time-based entry points into the
// pipeline: cron-style repeatable evaluation schedules and delayed one-shot
// changelog publication with fire-time re-validation.
package scheduler
