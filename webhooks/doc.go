// Package webhooks owns outbound webhook health: consecutive permanent
// failure accounting and the auto-disable threshold.
package webhooks
