// Package api defines the wire types of the FlowCanvas HTTP and WebSocket API.
//
// # API Overview
//
// FlowCanvas exposes the editing core to a renderer over:
//   - GET  /api/v1/palette: registered node kinds by category
//   - GET  /api/v1/workflows: summaries of saved workflows
//   - GET, PUT, DELETE /api/v1/workflows/{id}: snapshot read, replace, removal
//   - POST /api/v1/workflows/{id}/intents: apply one interaction intent
//   - POST /api/v1/workflows/{id}/save: persist now
//   - GET  /api/v1/workflows/{id}/export?format=json|yaml: download
//   - GET  /api/v1/workflows/{id}/ws: live editing over WebSocket
//   - /health, /healthz, /ready, /version
//
// # WebSocket protocol
//
// On connect the server sends a "snapshot" message. Every document mutation,
// whoever caused it, is pushed as a "change" carrying the snapshot after the
// mutation. Each client "intent" message is answered by a "result" echoing
// its request_id. A client that falls behind receives a fresh "snapshot"
// instead of the changes it missed; a "resync" message requests one.
//
// # Base URL
//
//	http://localhost:8080
package api
