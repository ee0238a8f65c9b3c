// Package snapshot fetches full REST snapshots of the run table and the
// blotter.
//
// The Loader runs once at startup to bootstrap the store and, when an
// interval is configured, again on a ticker. Each fetch records the store
// revision before the request is issued so the handler can discard a
// snapshot that a live push has already overtaken.
package snapshot
