// Package api defines the canonical types shared by every part of modelbridge.
//
// A caller hands the dispatcher a [CanonicalRequest]; adapters translate it to
// a backend family's native payload and translate the answer back into a
// [CanonicalResponse] or a sequence of [CanonicalChunk] values. Nothing in this
// package performs I/O.
//
// Core types:
//   - [CanonicalMessage]: one conversation turn with ordered [ContentPart] values
//   - [CanonicalRequest]: model id, messages, tools and [GenerationParameters]
//   - [CanonicalResponse]: the assistant message, [FinishReason] and [Usage]
//   - [CanonicalChunk]: one incremental delta of a streamed answer
//   - [Error]: the typed error taxonomy returned by every component
//
// Stream lifecycle states and their allowed transitions live in state.go and
// are enforced by the transcoder.
package api
