// Package resolver computes the per-event fan-out set from subscriptions,
// integration mappings, webhook registrations, and feature flags.
//
// Resolution is deliberately failure-absorbing: a broken source logs and
// yields nothing so the primary domain action and the remaining channels
// are never blocked.
package resolver
