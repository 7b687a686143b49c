package domain

import "strconv"

// VenueID identifies a market-data source.
type VenueID string

const (
	VenueBinance VenueID = "binance"
	VenueBybit   VenueID = "bybit"
	VenueOKX     VenueID = "okx"
	VenueDeribit VenueID = "deribit"
	VenueKucoin  VenueID = "kucoin"
)

// ConnectionPhase is the lifecycle phase of a venue's transport connection.
type ConnectionPhase string

const (
	Disconnected ConnectionPhase = "disconnected"
	Connecting   ConnectionPhase = "connecting"
	Connected    ConnectionPhase = "connected"
	Reconnecting ConnectionPhase = "reconnecting"
)

// ConnectionState is the supervisor-owned state of one venue's connection.
// Attempt is only meaningful while reconnecting.
type ConnectionState struct {
	Phase   ConnectionPhase `json:"phase"`
	Attempt int             `json:"attempt,omitempty"`
}

func (s ConnectionState) String() string {
	if s.Phase == Reconnecting {
		return string(s.Phase) + " (attempt " + strconv.Itoa(s.Attempt) + ")"
	}
	return string(s.Phase)
}
