// Package model defines the wire and view types shared across the desk client.
//
// Conventions:
//   - Prices and cash references: float64, nil when the backend has no value
//   - Timestamps: ISO 8601 as sent by the backend, with or without an offset
//   - Destination ids are opaque strings meaningful only to the backend
package model
