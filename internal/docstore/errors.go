package docstore

import "errors"

// ErrNotFound is returned by Get/Update/Delete when a Locator's slot has
// been deleted (or never held a record).
var ErrNotFound = errors.New("docstore: document not found")

// ErrInvalidLocator is returned when a caller-supplied byte string does
// not decode into a well-formed Locator.
var ErrInvalidLocator = errors.New("docstore: invalid locator encoding")
