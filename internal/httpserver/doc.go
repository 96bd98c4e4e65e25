// Package httpserver runs the reference health target with address
// validation, bounded timeouts and graceful shutdown.
package httpserver
