package pager

import "errors"

// ErrCorruptPage is returned when a page's stored checksum does not match
// its contents (spec §7: CorruptPage).
var ErrCorruptPage = errors.New("pager: corrupt page")

// ErrClosed is returned by any operation on a Pager after Close has run.
var ErrClosed = errors.New("pager: closed")

// ErrInvalidPageSize is returned when a page size is out of range or not a
// power of two.
var ErrInvalidPageSize = errors.New("pager: invalid page size")

// ErrBadHeader is returned when the file header page fails validation
// (bad magic, unsupported format version, or unsupported feature flags).
var ErrBadHeader = errors.New("pager: bad file header")
