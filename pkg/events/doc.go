// Package events defines the envelope and taxonomy of events published on a
// node's server-sent event stream.
//
// Each stream message carries a JSON document in its data field. The document
// is either an object with a single key naming the variant:
//
//	{"BlockAdded": {"height": 10}}
//
// or, for variants without a payload, the bare variant name:
//
//	"Shutdown"
//
// Decode turns such a document into an Envelope. Classify maps an Envelope to
// the EventType used as the routing key for handlers. Classify is total: names
// this package does not know about map to Other.
//
// Example usage:
//
//	env, err := events.Decode(msg.Data)
//	if err != nil {
//		var derr *events.DecodingError
//		if errors.As(err, &derr) {
//			log.Printf("skipping malformed message: %v", derr)
//		}
//		return
//	}
//	switch env.Type() {
//	case events.BlockAdded:
//		var block struct{ Height uint64 `json:"height"` }
//		_ = env.Payload().Unmarshal(&block)
//	}
package events
