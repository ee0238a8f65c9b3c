// Package database opens the PostgreSQL pool used by the conversation
// journal.
package database
