// Package hooks ships the built-in delivery handlers: signed webhooks with
// destination guarding, subscriber email, in-app notifications, Slack
// channel posts, and AI enrichment forwarding.
//
// Every handler reports through core.HookResult and never fails the worker
// with a bare error for an outcome the retry policy should classify.
package hooks
