// Package api implements the Videoflix HTTP handlers: account lifecycle
// under /api/, the video catalog and authenticated HLS delivery.
//
// Handlers receive every dependency through HandlerConfig. Cookie based JWT
// authentication is applied by the RequireUser middleware, so account endpoints
// never see the access cookie while catalog and media endpoints require it.
// Cross-cutting concerns such as request ids, logging, metrics, CORS and rate
// limiting live in internal/server.
package api
