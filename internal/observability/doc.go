// Package observability provides the structured logger and the Prometheus
// collectors shared by the HTTP layer and the auth services.
//
// Collectors are registered on a caller-supplied prometheus.Registerer so tests
// can use a private registry. A nil *Metrics is valid and records nothing.
package observability
