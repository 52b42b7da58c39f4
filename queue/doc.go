// Package queue provides the durable job backends: a Redis implementation
// for production and an in-memory implementation with matching semantics
// for tests and single-node development.
package queue
