// Package server hosts the Videoflix API behind one HTTP server.
//
// New wraps the api handlers in a fixed middleware chain: request ids,
// request logging, metrics, audit, security headers, CORS and the login rate
// limiter, in that order from the outside in. Routing uses gorilla/mux so
// unmatched paths and wrong methods share the API's JSON error shape.
package server
