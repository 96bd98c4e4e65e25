// Package healthcheck implements the single-shot liveness check. A check sends
// one GET to http://{host}:{port}{path} and is healthy only on a 200 response;
// an unreachable target is unhealthy rather than an error.
package healthcheck
