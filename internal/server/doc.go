// Package server provides the HTTP API: transcription submission, run
// monitoring, health and statistics endpoints, and Prometheus metrics.
package server
