// Package http implements the license server's HTTP handlers. Handlers stay
// thin: they decode and validate the request, call the license registry or
// binder, and render either a v1 response or an RFC 7807 problem through
// the shared error handler.
//
// Routes are assembled in internal/app. The admin handler exposes its own
// chi router so the admin middleware chain stays next to the routes it
// protects.
package http
