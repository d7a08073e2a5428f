package mailinglist

import "errors"

// Sentinel errors for the mailing list service layer. Outcome errors live in
// the domain package.
var (
	ErrMissingDependency = errors.New("mailinglist: missing dependency")
)
