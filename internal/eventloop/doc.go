// Package eventloop runs callbacks one at a time on a single goroutine.
//
// Feed deliveries, snapshot results and other asynchronous completions are
// posted to a Loop instead of touching shared state directly, so every
// state transition happens to completion before the next one starts. Once
// the loop is stopped, further posts are rejected and queued callbacks are
// discarded, which drops results that arrive after teardown.
package eventloop
