// Package stream implements the session broker behind every streaming
// response of llm-gateway.
//
// # Sessions
//
// A Registry owns one bounded channel per session. Register returns a
// Subscriber for the HTTP handler that drains the channel; the first event
// on every channel is Connected. Each slot has a permanent uuid, so a
// Writer bound to a slot can never end up addressing another consumer after
// the registry compacts its list.
//
//	sub := registry.Register()
//	defer sub.Disconnect()
//
//	w := registry.NewWriter(ctx, sub.ID())
//	go func() {
//		defer w.Close() // always enqueues Done
//		fmt.Fprint(w, payload)
//	}()
//
// # Delivery
//
// Broadcast and SendTo never block: a full or disconnected slot simply misses
// the event. Writer.Write blocks until the slot has room, its consumer goes
// away, or its context ends. Nothing is retried.
//
// # Reaping
//
// The Reaper pings every slot on a fixed interval and prunes those that
// refuse the ping, either because the consumer disconnected or because its
// buffer is still full.
//
// # Framing
//
// Event.WriteTo produces the SSE wire format: data events become
// "data: <payload>\n\n", Done becomes "data: [DONE]\n\n", and Connected and
// Ping become SSE comments.
package stream
