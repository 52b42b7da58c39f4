// Package worker runs the delivery pool: a fixed set of goroutines that
// dequeue durable jobs, execute their hook handlers, and classify every
// failure as retry-with-backoff or permanent.
package worker
