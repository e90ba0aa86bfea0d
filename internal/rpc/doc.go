// Package rpc is the operation boundary for the coordination core. It
// decodes JSON payloads, applies caller-side policy such as the
// minimum-round finalize gate, and renders every outcome as a uniform
// {ok, result | error:{kind, message}} envelope. The actual transport
// lives outside this module.
package rpc
