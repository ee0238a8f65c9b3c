// Package runstate holds the latest run table, recap log and blotter as
// one immutable View.
//
// Every accepted update replaces a whole collection; rows are never
// patched in place. Pushes may carry an optional "seq" stamp, and a stamped
// push that is not newer than the last accepted stamp for its collection is
// rejected with ErrStaleUpdate. Undecodable pushes are rejected with
// model.ErrMalformedPayload and leave the view untouched.
package runstate
