// Package metrics exposes the server's Prometheus collectors and the HTTP
// endpoint that serves them.
//
// All methods of *Metrics are safe to call on a nil receiver, so components
// can take a collector unconditionally and metrics stay optional.
package metrics
