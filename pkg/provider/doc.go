// Package provider defines the adapter interface every backend family
// implements, together with the pieces the family packages share: backend
// payload and event types, the injected invoker interfaces, message
// normalization, parameter clamping, finish-reason tables, token estimation
// and the per-stream accumulator.
//
// Family implementations live in sub-packages (conversational, completion,
// generic). An adapter holds only immutable configuration, so one instance
// serves any number of concurrent requests; everything a stream needs to
// remember lives in the [StreamState] the transcoder allocates per stream.
package provider
