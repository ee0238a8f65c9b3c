package model

import "time"

// -----------------------------------------------------------------------------
// Run Types
// -----------------------------------------------------------------------------

// ExpiryStatus is the backend's classification of an index's expiry.
type ExpiryStatus string

const (
	ExpiryPending  ExpiryStatus = "Pending"
	ExpiryInWindow ExpiryStatus = "In expiry window"
	ExpiryExpired  ExpiryStatus = "Expired"
)

// Expiry describes where an instrument sits relative to its expiry date.
type Expiry struct {
	Index      string       `json:"index"`
	Status     ExpiryStatus `json:"status"`
	ExpiryDate *Date        `json:"expiry_date"`
}

// RunRow is one instrument's current quote.
type RunRow struct {
	IndexName  string   `json:"index_name"`
	Bid        *float64 `json:"bid"`
	Offer      *float64 `json:"offer"`
	CashRef    *float64 `json:"cash_ref"`
	Watchpoint bool     `json:"watchpoint"`
	Expiry     *Expiry  `json:"expiry,omitempty"`
}

// Recap is a completed trade record.
type Recap struct {
	IndexName string    `json:"index_name"`
	Price     float64   `json:"price"`
	Lots      int       `json:"lots"`
	CashRef   *float64  `json:"cash_ref"`
	RecapText string    `json:"recap_text"`
	CreatedAt Timestamp `json:"created_at"`
}

// RunSnapshot is a point-in-time copy of the run table and, when the
// backend bundles them, the recap log.
type RunSnapshot struct {
	Rows   []RunRow `json:"run"`
	Recaps []Recap  `json:"recaps,omitempty"`

	// HasRecaps is true when the payload carried a recaps collection,
	// even an empty one.
	HasRecaps bool `json:"-"`
}

// -----------------------------------------------------------------------------
// Blotter and Orders
// -----------------------------------------------------------------------------

// BlotterTrade is an aggregated position line on the blotter.
type BlotterTrade struct {
	ID        int64     `json:"id"`
	Side      string    `json:"side"`
	IndexName string    `json:"index_name"`
	Qty       int       `json:"qty"`
	AvgPrice  float64   `json:"avg_price"`
	CreatedAt Timestamp `json:"created_at"`
}

// Order is an order persisted by the backend.
type Order struct {
	ID               int64     `json:"id"`
	ClientProvidedID string    `json:"client_provided_id"`
	Symbol           string    `json:"symbol"`
	Expiry           string    `json:"expiry"`
	Side             string    `json:"side"`
	Quantity         float64   `json:"quantity"`
	Price            float64   `json:"price"`
	Basis            *float64  `json:"basis"`
	CreatedAt        Timestamp `json:"created_at"`
}

// -----------------------------------------------------------------------------
// Directory and Conversation
// -----------------------------------------------------------------------------

// DestinationType classifies a message target.
type DestinationType string

const (
	DestinationChannel         DestinationType = "channel"
	DestinationUser            DestinationType = "user"
	DestinationExternalContact DestinationType = "external-contact"
)

// Destination is an addressable message target.
type Destination struct {
	ID   string          `json:"id" yaml:"id"`
	Name string          `json:"name" yaml:"name"`
	Type DestinationType `json:"type" yaml:"type"`
}

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleOperator Role = "operator"
	RoleSystem   Role = "system"
)

// ConversationTurn is one entry in the command log. Turns are never
// mutated after they are appended.
type ConversationTurn struct {
	Role          Role      `json:"role"`
	Text          string    `json:"text"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	At            time.Time `json:"at"`

	// Failed marks a system turn reporting a dispatch that did not succeed.
	Failed bool `json:"failed,omitempty"`
}
