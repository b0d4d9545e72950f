// Package blobstore provides temporary storage for audio chunks between
// splitting and transcription, with in-memory and HTTP-backed backends.
package blobstore
