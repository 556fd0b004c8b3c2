// Package api exposes the capture pipeline over HTTP: VIN validation and
// decoding, single and batch capture sessions, recent analytics events,
// health checks and Prometheus metrics.
package api
