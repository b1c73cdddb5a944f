// Package domain defines the core business types for the phishing triage
// service.
//
// Types in this package are pure value objects with no behavior beyond
// small pure accessors. They are the shared language between ingestion,
// analysis, and reply components.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No clients, no http.Request, no context.Context in struct fields
//   - JSON tags are allowed (they're metadata, not behavior)
//   - Constants and enums belong here
package domain
