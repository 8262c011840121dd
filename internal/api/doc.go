// Package api exposes the orchestration kernel over HTTP: running a
// conversation turn, inspecting recent run traces and metrics, changing the
// stage settings at runtime, managing memory and debugging single-link
// extraction.
package api
