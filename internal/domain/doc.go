// Package domain defines the core business types for the listserv mailing
// list engine.
//
// Types in this package are pure value objects with no behavior beyond
// validation, no database dependencies, and no HTTP concerns. They are the
// shared language between the state machine, the repositories, the command
// dispatcher and the transport layers.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB/DynamoDB tags are allowed (they're metadata, not behavior)
//   - Validation and coercion methods are allowed (pure functions on the type)
//   - Constants, enums and sentinel errors belong here
package domain
