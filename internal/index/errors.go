package index

import "errors"

// ErrIndexExists is returned by CreateIndex when the name is already
// registered on the collection (spec §4.F create_index).
var ErrIndexExists = errors.New("index: already exists")

// ErrIndexNotFound is returned by DropIndex/GetIndex for an unregistered
// name.
var ErrIndexNotFound = errors.New("index: not found")

// ErrDuplicateKey is returned when an insert or update would leave two
// entries with an equal key in a unique index (spec §4.F, invariant 8).
var ErrDuplicateKey = errors.New("index: duplicate key")

// ErrCannotDropPrimaryIndex is returned by DropIndex for the mandatory
// _id index, which every collection carries for its whole lifetime
// (spec §4.F: "the primary-key index on _id always exists and is unique").
var ErrCannotDropPrimaryIndex = errors.New("index: cannot drop primary key index")
