// Package http exposes the admission scheduler over HTTP.
//
// Every laboratory and session endpoint identifies the caller through the
// X-User-ID header, or the "user" query parameter for EventSource clients.
// Requests without an identity receive 401.
//
//   - GET /laboratories: catalog listing with capacity, session length,
//     occupancy and queue depth.
//   - GET /laboratories/{id}/queue: joins the laboratory and streams
//     notifications as Server-Sent Events. A rejected join (unknown laboratory,
//     already queued) is answered with a JSON error before any event is sent.
//   - GET /laboratories/{id}/queue/ws: the same subscription over a WebSocket,
//     one JSON text message per event.
//   - GET /laboratories/{id}/queue/position: {"laboratory_id","position","size"};
//     404 when the caller is not queued.
//   - DELETE /laboratories/{id}/queue: leaves the queue. Always 204.
//   - GET /sessions, GET /sessions/{id}: the caller's sessions.
//   - POST /sessions/{id}/end: ends the caller's session early. 204, or 409 when
//     the session already completed.
//   - GET /metrics, GET /healthz: Prometheus exposition and liveness.
//
// Errors use the body {"error_code","message"}.
package http
