// Package desk assembles the live dashboard: the run, recap and blotter
// feeds, the state store they feed, the REST bootstrap, the destination
// directory and the command composer.
//
// All store mutations are funnelled through one event loop. Closing the
// desk releases its feeds and stops the loop, so results that arrive
// after Close are dropped.
package desk
