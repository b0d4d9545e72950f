// Package audio handles WAV container manipulation and size-budgeted splitting.
// It implements minimal PCM header extraction and rewriting, byte-budget chunking
// with per-slice header repair, and adaptive downsampling for oversized chunks.
package audio
