// Package sqlstore provides the bun-backed persistence layer: webhook
// registrations with atomic failure accounting, integration mappings,
// evaluation schedules, and the dead letter archive.
package sqlstore
