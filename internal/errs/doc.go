// Package errs defines the error taxonomy shared across the
// coordination core: invalid_request, not_found, forbidden, internal.
package errs
