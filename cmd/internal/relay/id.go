package relay

import (
	"encoding/json"
	"time"

	"teamchat/cmd/records/ids"
	v1 "teamchat/shared/contracts/chat/v1"

	"github.com/google/uuid"
)

// NewConnectionID returns the transport-assigned connection id.
func NewConnectionID() string {
	return uuid.NewString()
}

// NewEnvelopeID returns a ULID so server envelopes sort by emission time in logs.
func NewEnvelopeID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		return uuid.NewString()
	}
	return id
}

func newEnvelope(typ string, payload any, now time.Time) v1.Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewEnvelopeID(now),
		TS:      now,
		Payload: raw,
	}
}

func errorEnvelope(code, msg, refID string, now time.Time) v1.Envelope {
	return newEnvelope(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg, RefID: refID}, now)
}
