// Package api exposes the harvester's status endpoints: liveness,
// readiness, Prometheus metrics and a live run summary.
package api
