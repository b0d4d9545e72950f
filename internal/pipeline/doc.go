// Package pipeline orchestrates multi-chunk transcription runs: batched
// chunk scheduling, per-chunk retry with backoff, progress reporting, and
// ordered transcript assembly with best-effort partial results.
package pipeline
