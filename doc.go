// Package fluxgate is an application-server core that routes HTTP requests
// and WebSocket events through one unified pipeline: route matching, payload
// validation, an ordered middleware chain, and the route handler.
//
// The top-level Server bundles the pieces most applications need: a route
// registry, a named middleware registry, a TTL-backed session store with
// single-use WebSocket handshake tokens, a presence tracker, and an optional
// broker for cross-process broadcast. Applications register routes against
// Routes(), mount HTTPHandler() and WSHandler(), and the pipeline semantics
// are identical on both transports.
//
// See examples/notes for a small, complete application.
package fluxgate
