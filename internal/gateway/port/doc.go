// Package port contains entry points into the gateway service: the WebSocket
// handler that runs connections end to end, and the ops HTTP endpoints that
// expose presence, history, and pipeline status. Ports translate external
// protocols into app layer calls.
package port
