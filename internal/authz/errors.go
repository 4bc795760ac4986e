package authz

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates the referenced role or user does not exist.
	ErrNotFound = errors.New("authz: not found")
	// ErrValidation indicates malformed input to a mutation. Never retried.
	ErrValidation = errors.New("authz: validation failed")
	// ErrStoreUnavailable indicates the backing store could not serve the request.
	ErrStoreUnavailable = errors.New("authz: store unavailable")
)

// Postgres error codes that mean the store itself is misconfigured for this
// client (missing grants, wrong database, bad credentials). Resolution reads
// treat these as "nothing found" and fall through to the next priority level;
// everything else propagates.
var misconfiguredCodes = map[string]struct{}{
	"42501": {}, // insufficient_privilege
	"42P01": {}, // undefined_table
	"3D000": {}, // invalid_catalog_name
	"28000": {}, // invalid_authorization_specification
	"28P01": {}, // invalid_password
}

// IsStoreMisconfigured classifies read errors that are safe to downgrade to
// an absent record during resolution.
func IsStoreMisconfigured(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := misconfiguredCodes[pgErr.Code]
		return ok
	}
	return false
}

// IsTimeout reports whether err stems from a deadline or cancellation. Any
// permission decision made under timeout defaults to deny.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
