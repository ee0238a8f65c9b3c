// Package api provides the REST client for the desk backend.
//
// Endpoints:
//   - GET  /api/efp/run             run snapshot (bare rows or {run, recaps})
//   - GET  /api/slack/destinations  destination directory
//   - POST /api/ai/chat             command dispatch
//   - GET  /api/blotter/list        blotter snapshot
//   - GET  /api/orders/list         persisted orders
//
// Reads are retried with exponential backoff; command dispatch is never
// retried because the backend executes every request it receives.
package api
