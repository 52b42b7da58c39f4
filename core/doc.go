// Package core contains canonical dispatch domain contracts, entities, and
// the event dispatcher. Lower-level packages (queue backends, handlers,
// stores) must depend on this package; core must not depend on any of them.
package core
