package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/SimonWaldherr/tinydoc/internal/document"
	"github.com/SimonWaldherr/tinydoc/internal/index"
	"github.com/SimonWaldherr/tinydoc/internal/value"
)

func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.tinydoc")
}

func openTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	eng, err := Open(tempDBPath(t), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func userDoc(name string, age int32) *document.Document {
	return document.New(
		document.Field{Name: "name", Value: value.String(name)},
		document.Field{Name: "age", Value: value.Int32(age)},
	)
}

func TestCreateCollectionAndInsertGet(t *testing.T) {
	eng := openTestEngine(t, Options{EnableJournaling: true})

	coll, err := eng.CreateCollection(context.Background(), "users")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	id, err := coll.Insert(userDoc("ada", 30))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := coll.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for a just-inserted document")
	}
	nameVal, ok := got.Get("name")
	if !ok || nameVal.AsString() != "ada" {
		t.Fatalf("name = %v, want ada", nameVal)
	}
}

func TestCreateCollectionDuplicateNameFails(t *testing.T) {
	eng := openTestEngine(t, Options{EnableJournaling: true})
	ctx := context.Background()

	if _, err := eng.CreateCollection(ctx, "users"); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	_, err := eng.CreateCollection(ctx, "users")
	if ErrorKind(err) != KindCollectionExists {
		t.Fatalf("err kind = %v, want CollectionExists", ErrorKind(err))
	}
}

func TestCollectionNotFound(t *testing.T) {
	eng := openTestEngine(t, Options{EnableJournaling: true})
	_, err := eng.Collection("ghosts")
	if ErrorKind(err) != KindCollectionNotFound {
		t.Fatalf("err kind = %v, want CollectionNotFound", ErrorKind(err))
	}
}

func TestUniqueIndexRejectsDuplicateKey(t *testing.T) {
	eng := openTestEngine(t, Options{EnableJournaling: true})
	ctx := context.Background()

	coll, err := eng.CreateCollection(ctx, "users", index.Descriptor{Name: "by_name", Fields: []string{"name"}, Unique: true})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	if _, err := coll.Insert(userDoc("ada", 30)); err != nil {
		t.Fatalf("Insert first: %v", err)
	}
	_, err = coll.Insert(userDoc("ada", 31))
	if ErrorKind(err) != KindDuplicateKey {
		t.Fatalf("err kind = %v, want DuplicateKey", ErrorKind(err))
	}

	// the primary index must not have a dangling entry for the rejected
	// insert: only the first document should be visible.
	n, err := coll.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	eng := openTestEngine(t, Options{EnableJournaling: true})
	ctx := context.Background()

	coll, err := eng.CreateCollection(ctx, "users")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	id, err := coll.Insert(userDoc("ada", 30))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := coll.Update(id, userDoc("ada", 31)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := coll.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	ageVal, _ := got.Get("age")
	age, _ := ageVal.TryInt64()
	if age != 31 {
		t.Fatalf("age after update = %v, want 31", age)
	}

	ok, err := coll.Delete(id)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !ok {
		t.Fatal("Delete returned false for an existing document")
	}
	got, err = coll.Get(id)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if got != nil {
		t.Fatal("Get after delete should return nil")
	}
}

func TestUpdateMissingDocumentReturnsErrDocumentNotFound(t *testing.T) {
	eng := openTestEngine(t, Options{EnableJournaling: true})
	ctx := context.Background()

	coll, err := eng.CreateCollection(ctx, "users")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	err = coll.Update(value.NewObjectID(), userDoc("nobody", 0))
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("Update of a missing id: err = %v, want ErrDocumentNotFound", err)
	}
}

func TestScanVisitsEveryLiveDocument(t *testing.T) {
	eng := openTestEngine(t, Options{EnableJournaling: true})
	ctx := context.Background()

	coll, err := eng.CreateCollection(ctx, "users")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	const n = 50
	for i := 0; i < n; i++ {
		if _, err := coll.Insert(userDoc("user", int32(i))); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	count := 0
	err = coll.Scan(func(doc *document.Document) bool {
		count++
		return true
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if count != n {
		t.Fatalf("Scan visited %d documents, want %d", count, n)
	}
}

func TestDropCollectionThenCompactReclaimsSpace(t *testing.T) {
	path := tempDBPath(t)
	eng, err := Open(path, Options{EnableJournaling: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	coll, err := eng.CreateCollection(ctx, "throwaway")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	for i := 0; i < 2000; i++ {
		if _, err := coll.Insert(userDoc("bulk", int32(i))); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	statsBefore := eng.Stats()
	if statsBefore.PageCount < 5 {
		t.Fatalf("expected a sizeable file before drop, got %d pages", statsBefore.PageCount)
	}

	if err := eng.DropCollection(ctx, "throwaway"); err != nil {
		t.Fatalf("DropCollection: %v", err)
	}
	if _, err := eng.CreateCollection(ctx, "keeper"); err != nil {
		t.Fatalf("CreateCollection keeper: %v", err)
	}

	if err := eng.Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	statsAfter := eng.Stats()
	if statsAfter.CollectionCount != 1 {
		t.Fatalf("CollectionCount after compact = %d, want 1", statsAfter.CollectionCount)
	}
	if statsAfter.PageCount >= statsBefore.PageCount {
		t.Fatalf("PageCount after compact (%d) should be well below before-drop size (%d)",
			statsAfter.PageCount, statsBefore.PageCount)
	}

	if _, err := eng.Collection("keeper"); err != nil {
		t.Fatalf("Collection(keeper) after compact: %v", err)
	}
	if _, err := eng.Collection("throwaway"); ErrorKind(err) != KindCollectionNotFound {
		t.Fatalf("Collection(throwaway) after compact, err kind = %v, want CollectionNotFound", ErrorKind(err))
	}
}

func TestExplicitTransactionCommit(t *testing.T) {
	eng := openTestEngine(t, Options{EnableJournaling: true})
	ctx := context.Background()

	if _, err := eng.CreateCollection(ctx, "users"); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	tx, err := eng.Begin(ctx, true)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	txColl, err := tx.Collection("users")
	if err != nil {
		t.Fatalf("tx.Collection: %v", err)
	}
	id1, err := txColl.Insert(userDoc("ada", 30))
	if err != nil {
		t.Fatalf("txColl.Insert: %v", err)
	}
	id2, err := txColl.Insert(userDoc("grace", 40))
	if err != nil {
		t.Fatalf("txColl.Insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	coll, err := eng.Collection("users")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	if n, err := coll.Count(); err != nil || n != 2 {
		t.Fatalf("Count = %d, err = %v, want 2, nil", n, err)
	}
	if got, _ := coll.Get(id1); got == nil {
		t.Fatal("document from committed transaction missing (id1)")
	}
	if got, _ := coll.Get(id2); got == nil {
		t.Fatal("document from committed transaction missing (id2)")
	}
}

func TestExplicitTransactionRollback(t *testing.T) {
	eng := openTestEngine(t, Options{EnableJournaling: true})
	ctx := context.Background()

	coll, err := eng.CreateCollection(ctx, "users")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	keptID, err := coll.Insert(userDoc("ada", 30))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	tx, err := eng.Begin(ctx, true)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	txColl, err := tx.Collection("users")
	if err != nil {
		t.Fatalf("tx.Collection: %v", err)
	}
	if _, err := txColl.Insert(userDoc("grace", 40)); err != nil {
		t.Fatalf("txColl.Insert: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	coll, err = eng.Collection("users")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	n, err := coll.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("Count after rollback = %d, want 1 (only the pre-transaction document)", n)
	}
	if got, _ := coll.Get(keptID); got == nil {
		t.Fatal("pre-transaction document lost after rollback")
	}
}

func TestReopenAfterCleanCloseKeepsData(t *testing.T) {
	path := tempDBPath(t)
	eng, err := Open(path, Options{EnableJournaling: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	coll, err := eng.CreateCollection(ctx, "users")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	id, err := coll.Insert(userDoc("ada", 30))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, Options{EnableJournaling: true})
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer reopened.Close()

	coll2, err := reopened.Collection("users")
	if err != nil {
		t.Fatalf("Collection after reopen: %v", err)
	}
	got, err := coll2.Get(id)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got == nil {
		t.Fatal("document missing after clean close + reopen")
	}
}

func TestCleanReopenLeavesNothingToRecover(t *testing.T) {
	// A clean Close leaves no incomplete transaction in the journal, so
	// journal recovery on the next Open has nothing to undo: the
	// collection created before the close is still there, and empty.
	path := tempDBPath(t)
	eng, err := Open(path, Options{EnableJournaling: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if _, err := eng.CreateCollection(ctx, "users"); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen: recovery must be a no-op when the prior close was clean,
	// and the collection must still be usable.
	reopened, err := Open(path, Options{EnableJournaling: true})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	coll, err := reopened.Collection("users")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	if n, err := coll.Count(); err != nil || n != 0 {
		t.Fatalf("Count after clean reopen = %d, err = %v, want 0, nil", n, err)
	}
}

func TestCancelledContextBeforeCommitRollsBack(t *testing.T) {
	eng := openTestEngine(t, Options{EnableJournaling: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.CreateCollection(ctx, "users")
	if ErrorKind(err) != KindCancelled {
		t.Fatalf("err kind = %v, want Cancelled", ErrorKind(err))
	}
	if _, lookupErr := eng.Collection("users"); ErrorKind(lookupErr) != KindCollectionNotFound {
		t.Fatalf("collection should not exist after a cancelled create, err kind = %v", ErrorKind(lookupErr))
	}
}

func TestDisposedEngineRejectsOperations(t *testing.T) {
	eng, err := Open(tempDBPath(t), Options{EnableJournaling: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err = eng.CreateCollection(context.Background(), "users")
	if ErrorKind(err) != KindDisposed {
		t.Fatalf("err kind = %v, want Disposed", ErrorKind(err))
	}
}

func TestJournalDisabledStillPersistsAcrossReopen(t *testing.T) {
	path := tempDBPath(t)
	eng, err := Open(path, Options{EnableJournaling: false})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	coll, err := eng.CreateCollection(ctx, "users")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if _, err := coll.Insert(userDoc("ada", 30)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(path + ".journal"); err == nil {
		t.Fatal("journal sibling file should not exist when journaling is disabled")
	}

	reopened, err := Open(path, Options{EnableJournaling: false})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	coll2, err := reopened.Collection("users")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	if n, err := coll2.Count(); err != nil || n != 1 {
		t.Fatalf("Count after reopen = %d, err = %v, want 1, nil", n, err)
	}
}
