// Package mailinglist implements the per-list subscription, permission and
// moderation state machine.
//
// A List is a thin handle over a persisted list record. Every operation
// reloads the record, computes the requester's role, asks the permission
// engine, and applies the resulting membership or config transition through
// the Repository under a per-list lock with a version check on each write.
// The Registry owns address lookups and provisioning.
//
// The package never imports net/http or database/sql directly.
package mailinglist
