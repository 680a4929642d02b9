// Package journal implements tinydoc's crash-recovery log.
//
// Unlike the teacher's WAL — a redo log of post-images replayed forward on
// recovery — this is an undo log of pre-images (spec §4.D/§6.2): before a
// transaction overwrites a page in the main file, the page's prior
// contents (or an empty "did not exist yet" image, for a freshly
// allocated page) are appended here. A committed transaction's trailer is
// written only after every dirty page has been durably flushed to the main
// file, so recovery only ever has work to do when the crash happened mid-
// commit: it replays the pre-images onto the main file, moving it
// *backward* to the last fully-committed state, then discards the journal.
// There is no forward replay path — a complete trailer means the main file
// already reflects every recorded page, pre-images and all.
package journal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/SimonWaldherr/tinydoc/internal/pager"
)

// ───────────────────────────────────────────────────────────────────────────
// Record format
// ───────────────────────────────────────────────────────────────────────────
//
// Sibling file "<db>.journal", append-only. Each record:
//
//	[0:4]   Length    (uint32 LE) — length of the page-image payload
//	[4:8]   PageID     (uint32 LE)
//	[8:12]  Checksum   (uint32 LE, CRC32-C of PageID+payload)
//	[12:12+Length] pre-image payload (may be empty: page did not exist yet)
//
// Trailer, written once every page touched by the transaction has a
// pre-image record on disk and fsynced:
//
//	[0:8]   Magic       "JRNL-END"
//	[8:16]  RecordCount (uint64 LE) — number of pre-image records preceding it
//
// Absence of a well-formed trailer at the tail of the file — truncated,
// missing, or its RecordCount doesn't match the records actually present —
// means the last transaction did not finish committing; recovery replays
// every pre-image it can parse, in reverse order, then truncates the
// journal to empty.

const (
	recordHeaderSize = 12
	trailerMagic     = "JRNL-END"
	trailerSize      = 16
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Journal owns the sibling ".journal" file used to make a batch of page
// writes atomic with respect to crashes.
type Journal struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// Open opens or creates the journal file at path. If it already holds an
// incomplete transaction (no valid trailer), the caller should run
// Recover against it before using the journal for new writes.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	return &Journal{f: f, path: path}, nil
}

// Path returns the journal file's path.
func (j *Journal) Path() string { return j.path }

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// Tx represents one in-flight journaled transaction: a batch of page
// writes that must become durable together.
type Tx struct {
	j       *Journal
	records int
}

// Begin starts a new journaled transaction. The journal must be empty
// (truncated) before a new one starts — callers run Commit (which
// truncates on success) or Recover (which truncates after restoring pre-
// images) before calling Begin again.
func (j *Journal) Begin() (*Tx, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.f.Truncate(0); err != nil {
		return nil, fmt.Errorf("journal: truncate before begin: %w", err)
	}
	if _, err := j.f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return &Tx{j: j}, nil
}

// LogPreImage appends the pre-image of a page about to be overwritten.
// preImage may be nil/empty when the page is being allocated for the
// first time (there is nothing to restore it to but "absent").
func (tx *Tx) LogPreImage(id pager.PageID, preImage []byte) error {
	tx.j.mu.Lock()
	defer tx.j.mu.Unlock()

	rec := make([]byte, recordHeaderSize+len(preImage))
	binary.LittleEndian.PutUint32(rec[0:4], uint32(len(preImage)))
	binary.LittleEndian.PutUint32(rec[4:8], uint32(id))
	cks := checksumRecord(id, preImage)
	binary.LittleEndian.PutUint32(rec[8:12], cks)
	copy(rec[recordHeaderSize:], preImage)

	if _, err := tx.j.f.Write(rec); err != nil {
		return fmt.Errorf("journal: write pre-image for page %d: %w", id, err)
	}
	tx.records++
	return nil
}

func checksumRecord(id pager.PageID, payload []byte) uint32 {
	h := crc32.New(crcTable)
	var idBuf [4]byte
	binary.LittleEndian.PutUint32(idBuf[:], uint32(id))
	h.Write(idBuf[:])
	h.Write(payload)
	return h.Sum32()
}

// Sync fsyncs every pre-image written so far, establishing the durability
// point recovery relies on before the transaction's actual page writes are
// applied to the main file.
func (tx *Tx) Sync() error {
	tx.j.mu.Lock()
	defer tx.j.mu.Unlock()
	return tx.j.f.Sync()
}

// Commit writes the trailer marking this transaction complete, fsyncs it,
// then truncates the journal back to empty — the main file already holds
// every write the caller made between Begin and Commit, so the pre-images
// are no longer needed.
func (tx *Tx) Commit() error {
	tx.j.mu.Lock()
	defer tx.j.mu.Unlock()

	var trailer [trailerSize]byte
	copy(trailer[0:8], trailerMagic)
	binary.LittleEndian.PutUint64(trailer[8:16], uint64(tx.records))
	if _, err := tx.j.f.Write(trailer[:]); err != nil {
		return fmt.Errorf("journal: write trailer: %w", err)
	}
	if err := tx.j.f.Sync(); err != nil {
		return fmt.Errorf("journal: sync trailer: %w", err)
	}
	if err := tx.j.f.Truncate(0); err != nil {
		return fmt.Errorf("journal: truncate after commit: %w", err)
	}
	_, err := tx.j.f.Seek(0, io.SeekStart)
	return err
}

// Abort discards the transaction's pre-images without applying anything —
// used when the caller decides to roll back before ever writing the pages
// to the main file, so there is nothing on disk to undo.
func (tx *Tx) Abort() error {
	tx.j.mu.Lock()
	defer tx.j.mu.Unlock()
	if err := tx.j.f.Truncate(0); err != nil {
		return err
	}
	_, err := tx.j.f.Seek(0, io.SeekStart)
	return err
}

// PreImageRecord is one parsed pre-image entry.
type PreImageRecord struct {
	PageID pager.PageID
	Image  []byte // nil/empty means the page did not exist before the transaction
}

// Recover reads the journal file, validates its trailer, and returns the
// pre-images to restore — in the order they must be applied, which is the
// REVERSE of the order they were written (the last page touched must be
// undone first, since a later write may have depended on an earlier one
// already being in its new state). If the trailer is present, well-formed,
// and its count matches the number of valid records actually read, the
// prior transaction completed and there is nothing to undo: Recover
// returns (nil, nil). Any other case — missing trailer, truncated tail,
// corrupt record — means the crash happened mid-commit, and every
// pre-image successfully parsed before the break is returned for replay.
func Recover(path string) ([]PreImageRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("journal: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	records, trailerOK := parseRecords(data)
	if trailerOK {
		return nil, nil
	}

	// Replay in reverse: undo the most recent write first.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// parseRecords walks data front-to-back, returning every well-formed
// pre-image record and whether a valid trailer immediately follows the
// last one parsed (meaning the transaction committed cleanly and nothing
// needs undoing).
func parseRecords(data []byte) ([]PreImageRecord, bool) {
	var out []PreImageRecord
	off := 0
	for off+recordHeaderSize <= len(data) {
		if matchesTrailer(data[off:]) {
			count := binary.LittleEndian.Uint64(data[off+8 : off+16])
			return out, count == uint64(len(out))
		}
		length := binary.LittleEndian.Uint32(data[off : off+4])
		id := pager.PageID(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		storedCRC := binary.LittleEndian.Uint32(data[off+8 : off+12])
		bodyStart := off + recordHeaderSize
		bodyEnd := bodyStart + int(length)
		if bodyEnd > len(data) {
			return out, false // truncated tail
		}
		payload := data[bodyStart:bodyEnd]
		if checksumRecord(id, payload) != storedCRC {
			return out, false // corrupt record, stop here
		}
		img := append([]byte(nil), payload...)
		out = append(out, PreImageRecord{PageID: id, Image: img})
		off = bodyEnd
	}
	return out, false
}

func matchesTrailer(data []byte) bool {
	if len(data) < trailerSize {
		return false
	}
	return string(data[0:8]) == trailerMagic
}

// Apply writes every pre-image record back onto p via WriteRawPage, in the
// order given (already reversed by Recover), then truncates the journal.
// A record whose Image is empty means the page did not exist before the
// transaction; there is nothing meaningful to restore it to on disk other
// than leaving it as a free page, so Apply skips writing it back and
// leaves reclaiming its slot to the pager's normal free-list bookkeeping.
func Apply(p *pager.Pager, records []PreImageRecord) error {
	for _, rec := range records {
		if len(rec.Image) == 0 {
			continue
		}
		if err := p.WriteRawPage(rec.PageID, rec.Image); err != nil {
			return fmt.Errorf("journal: restore pre-image for page %d: %w", rec.PageID, err)
		}
	}
	return nil
}

// RecoverAndApply runs Recover against journalPath and, if it finds an
// incomplete transaction, restores its pre-images onto p and truncates the
// journal file. It is the normal startup sequence: call it once right
// after opening the pager and before serving any requests. It returns the
// number of pre-image records replayed (0 if the journal was clean),
// which callers may surface as a diagnostic.
func RecoverAndApply(p *pager.Pager, journalPath string) (int, error) {
	records, err := Recover(journalPath)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := Apply(p, records); err != nil {
		return 0, err
	}
	if err := os.Truncate(journalPath, 0); err != nil {
		return 0, err
	}
	return len(records), nil
}
