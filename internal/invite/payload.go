// Package invite holds the formats hosts use to bring runners into a
// circuit: the QR payload, deep links and the share texts.
package invite

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidPayload   = errors.New("qr payload has no circuit information")
	ErrMalformedPayload = errors.New("qr payload is not valid json")
)

// isoMillis matches the timestamps mobile clients put in QR codes.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Payload is the QR wire format shared by host and joining devices. Field
// names and types are fixed.
type Payload struct {
	CircuitID string `json:"circuitId"`
	UserID    string `json:"userId"`
	Timestamp string `json:"timestamp"`
}

func NewPayload(circuitID, userID string, now time.Time) Payload {
	return Payload{
		CircuitID: circuitID,
		UserID:    userID,
		Timestamp: now.UTC().Format(isoMillis),
	}
}

func Encode(p Payload) ([]byte, error) {
	if p.CircuitID == "" || p.UserID == "" {
		return nil, ErrInvalidPayload
	}
	return json.Marshal(p)
}

// Decode validates a scanned payload. Every failure matches
// ErrInvalidPayload; unparsable input also matches ErrMalformedPayload.
func Decode(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrInvalidPayload, ErrMalformedPayload)
	}
	if p.CircuitID == "" || p.UserID == "" {
		return Payload{}, ErrInvalidPayload
	}
	return p, nil
}

// IssuedAt parses the payload timestamp. Clients that sent no timestamp get
// the zero time.
func (p Payload) IssuedAt() (time.Time, error) {
	if p.Timestamp == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, p.Timestamp)
}
