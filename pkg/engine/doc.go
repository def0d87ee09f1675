// Package engine implements the dispatcher of modelbridge. The Engine
// validates a canonical request, resolves the model to a backend family,
// encodes the request, invokes the injected backend and decodes the answer,
// either as one CanonicalResponse or as a transcoded chunk stream. Invokers
// are supplied per family by the host; the engine itself performs no
// network I/O.
package engine
