// Package httpgov adapts the governor to net/http.
//
// Handler governs a conversion endpoint: the request body is buffered once
// so that every attempt sees the full upload, and the response of each
// attempt is recorded and only copied to the client when the attempt
// succeeds. Clients therefore never receive a partial response.
//
//	mux.Handle("POST /api/pdf-to-text", httpgov.Handler(g, httpgov.Job{
//	    Tool:     "pdf-to-text",
//	    Category: policy.CategoryPDF,
//	}, pdfToText))
//
// Outcomes are mapped to responses as follows:
//
//   - rejection: 503 (429 when rate limited), Retry-After header, JSON error
//   - handler responded < 400: the recorded response, verbatim
//   - handler responded 4xx: the recorded response, counted as a failure
//   - any other failure: JSON {"error": message} with a user-safe message
//
// MetricsHandler and HealthHandler expose the monitoring endpoints.
package httpgov
