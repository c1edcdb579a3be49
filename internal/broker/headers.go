package broker

import (
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"tripupdate-processor/internal/events"
)

const (
	HeaderSchema    = "Transitdata-Schema"
	HeaderEventTime = "Transitdata-Event-Time"
	HeaderKey       = "Transitdata-Key"
	HeaderProducer  = "Transitdata-Producer"
)

// EnvelopeFrom builds an envelope from message headers. A missing or
// unparsable event time falls back to stored, the broker's receive time.
func EnvelopeFrom(h nats.Header, data []byte, stored time.Time) events.Envelope {
	env := events.Envelope{
		Payload: data,
		Key:     strings.TrimSpace(h.Get(HeaderKey)),
		Schema:  events.Schema(strings.TrimSpace(h.Get(HeaderSchema))),
	}
	if ms, err := strconv.ParseInt(strings.TrimSpace(h.Get(HeaderEventTime)), 10, 64); err == nil && ms > 0 {
		env.EventTimeMs = ms
	} else if !stored.IsZero() {
		env.EventTimeMs = stored.UnixMilli()
	}
	return env
}

// NewMsg is the inverse of EnvelopeFrom, used for outbound messages and by
// replay tooling.
func NewMsg(subject string, env events.Envelope) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = env.Payload
	if env.Schema != "" {
		msg.Header.Set(HeaderSchema, string(env.Schema))
	}
	if env.Key != "" {
		msg.Header.Set(HeaderKey, env.Key)
	}
	msg.Header.Set(HeaderEventTime, strconv.FormatInt(env.EventTimeMs, 10))
	return msg
}
