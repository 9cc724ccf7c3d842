/*
Package observability turns engine hooks into Prometheus metrics.

Metrics registers its collectors on a caller-supplied registerer and exposes
a domain.Hooks value to pass to the engine, the cache and the advancer.
Combine merges several Hooks so metrics and custom callbacks can coexist.
*/
package observability
