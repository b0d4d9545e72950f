// Package transcribe provides the transcription provider client, the error
// taxonomy that separates retryable from fatal failures, and the backoff
// retry helpers built on top of it.
package transcribe
