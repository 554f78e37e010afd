// Package sseclient consumes a node's server-sent event stream.
//
// A Client owns at most one live stream. It validates the node's ApiVersion
// handshake, then dispatches every event to the handlers registered for its
// type, in the order the node sent them and, per event, in registration
// order.
//
// Connection handling is explicit: Connect opens the stream once, while
// Supervise keeps it open according to a reconnect.Policy. A stream ends on
// a transport failure, the end of the response, a Shutdown event or a
// repeated ApiVersion. The client then returns to Disconnected, reports the
// cause on ConnectionLost and keeps its handlers for the next connection.
//
// Example usage:
//
//	client, err := sseclient.New(sseclient.Config{URL: "http://node:18101/events"})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	_, err = client.On(ctx, events.BlockAdded, func(env events.Envelope) {
//		log.Printf("block: %s", env.Payload())
//	})
//	if err != nil {
//		return err
//	}
//
//	go client.Supervise(ctx)
//
//	env, ok, err := client.WaitForEvent(ctx, events.FinalitySignature, nil, time.Minute)
package sseclient
