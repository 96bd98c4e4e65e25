// Package handler implements the HTTP handlers of the reference service the
// probe is pointed at: a /health endpoint and a JSON not-found response.
package handler
