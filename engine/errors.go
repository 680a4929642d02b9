package engine

import (
	"errors"
	"fmt"
)

// Kind categorizes an engine error per spec §7's taxonomy, so callers can
// branch on failure class without string-matching messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindIoError
	KindCorruptPage
	KindCorruptJournal
	KindInvalidEncoding
	KindDuplicateKey
	KindIndexExists
	KindIndexNotFound
	KindCollectionExists
	KindCollectionNotFound
	KindLockTimeout
	KindCancelled
	KindDisposed
)

func (k Kind) String() string {
	switch k {
	case KindIoError:
		return "IoError"
	case KindCorruptPage:
		return "CorruptPage"
	case KindCorruptJournal:
		return "CorruptJournal"
	case KindInvalidEncoding:
		return "InvalidEncoding"
	case KindDuplicateKey:
		return "DuplicateKey"
	case KindIndexExists:
		return "IndexExists"
	case KindIndexNotFound:
		return "IndexNotFound"
	case KindCollectionExists:
		return "CollectionExists"
	case KindCollectionNotFound:
		return "CollectionNotFound"
	case KindLockTimeout:
		return "LockTimeout"
	case KindCancelled:
		return "Cancelled"
	case KindDisposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// Sentinel errors, one per taxonomy entry — wrapped by dbError so
// errors.Is still matches the sentinel while errors.As reaches the full
// Kind/Op/Err triple.
var (
	ErrIoError            = errors.New("engine: io error")
	ErrCorruptPage        = errors.New("engine: corrupt page")
	ErrCorruptJournal     = errors.New("engine: corrupt journal")
	ErrInvalidEncoding    = errors.New("engine: invalid encoding")
	ErrDuplicateKey       = errors.New("engine: duplicate key")
	ErrIndexExists        = errors.New("engine: index already exists")
	ErrIndexNotFound      = errors.New("engine: index not found")
	ErrCollectionExists   = errors.New("engine: collection already exists")
	ErrCollectionNotFound = errors.New("engine: collection not found")
	ErrLockTimeout        = errors.New("engine: lock acquisition timed out")
	ErrCancelled          = errors.New("engine: operation cancelled")
	ErrDisposed           = errors.New("engine: operation on a closed engine or collection")

	// ErrDocumentNotFound is returned by Collection.Update for an id that
	// does not name a live document. It sits outside spec §7's taxonomy
	// (which covers structural/storage failures, not ordinary lookup
	// misses), so it is not attached to a Kind.
	ErrDocumentNotFound = errors.New("engine: document not found")
)

var kindSentinel = map[Kind]error{
	KindIoError:            ErrIoError,
	KindCorruptPage:        ErrCorruptPage,
	KindCorruptJournal:     ErrCorruptJournal,
	KindInvalidEncoding:    ErrInvalidEncoding,
	KindDuplicateKey:       ErrDuplicateKey,
	KindIndexExists:        ErrIndexExists,
	KindIndexNotFound:      ErrIndexNotFound,
	KindCollectionExists:   ErrCollectionExists,
	KindCollectionNotFound: ErrCollectionNotFound,
	KindLockTimeout:        ErrLockTimeout,
	KindCancelled:          ErrCancelled,
	KindDisposed:           ErrDisposed,
}

// dbError is the concrete error type every engine-level operation
// returns: a Kind from the taxonomy, the operation that failed, and the
// underlying cause (which may itself be a wrapped dbError, a pager/btree/
// index/docstore error, or a plain I/O error).
type dbError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *dbError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *dbError) Unwrap() error {
	if sentinel, ok := kindSentinel[e.Kind]; ok {
		if e.Err != nil {
			return e.Err
		}
		return sentinel
	}
	return e.Err
}

// Is lets errors.Is(err, ErrDuplicateKey) succeed against a *dbError whose
// Kind maps to that sentinel, even when Err itself is a different
// underlying error (e.g. a wrapped btree.ErrDuplicateKey).
func (e *dbError) Is(target error) bool {
	sentinel, ok := kindSentinel[e.Kind]
	return ok && sentinel == target
}

// wrapErr builds a *dbError for op, classifying err into the taxonomy by
// kind. Returns nil if err is nil.
func wrapErr(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &dbError{Kind: kind, Op: op, Err: err}
}

// ErrorKind extracts the Kind from an engine error, or KindUnknown if err
// is not (or does not wrap) a *dbError.
func ErrorKind(err error) Kind {
	var de *dbError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// wrapIfPlain classifies err as kind unless it is already a *dbError (in
// which case its own, more specific Kind is preserved).
func wrapIfPlain(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var de *dbError
	if errors.As(err, &de) {
		return err
	}
	return wrapErr(kind, op, err)
}
