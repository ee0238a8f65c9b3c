// Package directory resolves human-readable destination names to the
// opaque ids the backend expects.
//
// The directory is filled once from the backend and merged with static
// contacts from configuration. After Load it is read-only and safe for
// concurrent use by suggestion and substitution.
package directory
