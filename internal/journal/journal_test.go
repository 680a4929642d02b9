package journal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/SimonWaldherr/tinydoc/internal/pager"
)

func tempJournalPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.journal")
}

func TestCommitTruncatesJournal(t *testing.T) {
	path := tempJournalPath(t)
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	tx, err := j.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.LogPreImage(pager.PageID(3), bytes.Repeat([]byte{0xAB}, 64)); err != nil {
		t.Fatalf("LogPreImage: %v", err)
	}
	if err := tx.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected journal truncated to empty after commit, got %d bytes", info.Size())
	}

	records, err := Recover(path)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if records != nil {
		t.Fatalf("expected no records to recover after a clean commit, got %d", len(records))
	}
}

func TestRecoverReplaysUncommittedPreImagesInReverse(t *testing.T) {
	path := tempJournalPath(t)
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	tx, err := j.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	imgA := bytes.Repeat([]byte{0x11}, 32)
	imgB := bytes.Repeat([]byte{0x22}, 32)
	if err := tx.LogPreImage(pager.PageID(1), imgA); err != nil {
		t.Fatalf("LogPreImage A: %v", err)
	}
	if err := tx.LogPreImage(pager.PageID(2), imgB); err != nil {
		t.Fatalf("LogPreImage B: %v", err)
	}
	if err := tx.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	// Simulate a crash: no trailer was ever written.
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records, err := Recover(path)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 pre-image records, got %d", len(records))
	}
	// Reverse order: page 2 (written last) must be undone first.
	if records[0].PageID != pager.PageID(2) || !bytes.Equal(records[0].Image, imgB) {
		t.Fatalf("expected first replayed record to be page 2's pre-image")
	}
	if records[1].PageID != pager.PageID(1) || !bytes.Equal(records[1].Image, imgA) {
		t.Fatalf("expected second replayed record to be page 1's pre-image")
	}
}

func TestRecoverDetectsCorruptTailRecord(t *testing.T) {
	path := tempJournalPath(t)
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tx, err := j.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.LogPreImage(pager.PageID(5), bytes.Repeat([]byte{0x33}, 16)); err != nil {
		t.Fatalf("LogPreImage: %v", err)
	}
	if err := tx.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Flip a byte in the payload so its checksum no longer matches.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data[recordHeaderSize] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	records, err := Recover(path)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected a corrupted record to be discarded, got %d records", len(records))
	}
}

func TestRecoverOnMissingJournalIsNoop(t *testing.T) {
	path := tempJournalPath(t)
	records, err := Recover(path)
	if err != nil {
		t.Fatalf("Recover on missing file: %v", err)
	}
	if records != nil {
		t.Fatalf("expected nil records for a missing journal file")
	}
}

func TestAbortDiscardsPreImagesWithoutTrailer(t *testing.T) {
	path := tempJournalPath(t)
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	tx, err := j.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.LogPreImage(pager.PageID(9), bytes.Repeat([]byte{0x44}, 8)); err != nil {
		t.Fatalf("LogPreImage: %v", err)
	}
	if err := tx.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected journal truncated after abort, got %d bytes", info.Size())
	}
}

func TestRecoverAndApplyRestoresPageContent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	p, err := pager.Open(pager.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}

	pid, buf := p.AllocPage(pager.PageTypeData)
	copy(buf[pager.PageHeaderSize:], []byte("original"))
	if err := p.WritePage(pid, buf); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	p.UnpinPage(pid)
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	preImage, err := p.ReadRawPage(pid)
	if err != nil {
		t.Fatalf("ReadRawPage: %v", err)
	}
	preImageCopy := append([]byte(nil), preImage...)

	journalPath := filepath.Join(filepath.Dir(dbPath), "test.journal")
	j, err := Open(journalPath)
	if err != nil {
		t.Fatalf("journal Open: %v", err)
	}
	tx, err := j.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.LogPreImage(pid, preImageCopy); err != nil {
		t.Fatalf("LogPreImage: %v", err)
	}
	if err := tx.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("journal Close: %v", err)
	}

	// Apply the "uncommitted" write directly to the main file, simulating
	// a crash after the page write landed but before the trailer did.
	copy(buf[pager.PageHeaderSize:], []byte("mutated!"))
	if err := p.WriteRawPage(pid, buf); err != nil {
		t.Fatalf("WriteRawPage: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p2, err := pager.Open(pager.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()

	if _, err := RecoverAndApply(p2, journalPath); err != nil {
		t.Fatalf("RecoverAndApply: %v", err)
	}

	restored, err := p2.ReadRawPage(pid)
	if err != nil {
		t.Fatalf("ReadRawPage after recovery: %v", err)
	}
	if !bytes.HasPrefix(restored[pager.PageHeaderSize:], []byte("original")) {
		t.Fatalf("expected page restored to pre-image content, got %q", restored[pager.PageHeaderSize:pager.PageHeaderSize+8])
	}
}
