// Command tinydoc is a thin CLI over the engine package, demonstrating its
// collection API (create/drop collections, insert/get/update/delete/scan
// documents, create/drop indexes, compact, stats) the way tinysql's CLI
// demonstrates the SQL engine it wraps. It speaks JSON objects on stdin/
// stdout for document bodies; it does not parse any query language.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/SimonWaldherr/tinydoc/engine"
	"github.com/SimonWaldherr/tinydoc/internal/document"
	"github.com/SimonWaldherr/tinydoc/internal/value"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tinydoc: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: tinydoc DBFILE COMMAND [ARGS...]

commands:
  collections
  stats
  create-collection NAME
  drop-collection NAME
  create-index [--unique] COLLECTION NAME FIELD[,FIELD...]
  drop-index COLLECTION NAME
  insert COLLECTION        (document JSON read from stdin)
  get COLLECTION ID
  update COLLECTION ID     (document JSON read from stdin)
  delete COLLECTION ID
  scan COLLECTION          (documents written as JSON lines)
  compact`)
}

func run(args []string) error {
	if len(args) < 2 {
		usage()
		return errors.New("missing DBFILE or COMMAND")
	}
	dbPath, cmd, rest := args[0], args[1], args[2:]

	eng, err := engine.Open(dbPath, engine.DefaultOptions())
	if err != nil {
		return fmt.Errorf("open %s: %w", dbPath, err)
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch cmd {
	case "collections":
		return cmdCollections(eng)
	case "stats":
		return cmdStats(eng)
	case "create-collection":
		return cmdCreateCollection(ctx, eng, rest)
	case "drop-collection":
		return cmdDropCollection(ctx, eng, rest)
	case "create-index":
		return cmdCreateIndex(eng, rest)
	case "drop-index":
		return cmdDropIndex(eng, rest)
	case "insert":
		return cmdInsert(eng, rest)
	case "get":
		return cmdGet(eng, rest)
	case "update":
		return cmdUpdate(eng, rest)
	case "delete":
		return cmdDelete(eng, rest)
	case "scan":
		return cmdScan(eng, rest)
	case "compact":
		return cmdCompact(ctx, eng)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdCollections(eng *engine.Engine) error {
	names := eng.Collections()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintln(w, name)
	}
	return w.Flush()
}

func cmdStats(eng *engine.Engine) error {
	st := eng.Stats()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "collections\t%d\n", st.CollectionCount)
	fmt.Fprintf(w, "pages\t%d\n", st.PageCount)
	fmt.Fprintf(w, "page_size\t%d\n", st.PageSize)
	return w.Flush()
}

func cmdCreateCollection(ctx context.Context, eng *engine.Engine, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: create-collection NAME")
	}
	_, err := eng.CreateCollection(ctx, args[0])
	return err
}

func cmdDropCollection(ctx context.Context, eng *engine.Engine, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: drop-collection NAME")
	}
	return eng.DropCollection(ctx, args[0])
}

func cmdCreateIndex(eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("create-index", flag.ContinueOnError)
	unique := fs.Bool("unique", false, "reject duplicate keys")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pos := fs.Args()
	if len(pos) != 3 {
		return errors.New("usage: create-index [--unique] COLLECTION NAME FIELD[,FIELD...]")
	}
	coll, name, fieldList := pos[0], pos[1], pos[2]
	c, err := eng.Collection(coll)
	if err != nil {
		return err
	}
	return c.CreateIndex(name, strings.Split(fieldList, ","), *unique)
}

func cmdDropIndex(eng *engine.Engine, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: drop-index COLLECTION NAME")
	}
	c, err := eng.Collection(args[0])
	if err != nil {
		return err
	}
	return c.DropIndex(args[1])
}

func cmdInsert(eng *engine.Engine, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: insert COLLECTION (reads one JSON object from stdin)")
	}
	c, err := eng.Collection(args[0])
	if err != nil {
		return err
	}
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	doc := jsonToDocument(obj)
	id, err := c.Insert(doc)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, id.Hex())
	return nil
}

func cmdGet(eng *engine.Engine, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: get COLLECTION ID")
	}
	c, err := eng.Collection(args[0])
	if err != nil {
		return err
	}
	id, err := value.ParseObjectIDHex(args[1])
	if err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}
	doc, err := c.Get(id)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("no document with id %s", args[1])
	}
	return writeDocumentJSON(os.Stdout, doc)
}

func cmdUpdate(eng *engine.Engine, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: update COLLECTION ID (reads document JSON from stdin)")
	}
	c, err := eng.Collection(args[0])
	if err != nil {
		return err
	}
	id, err := value.ParseObjectIDHex(args[1])
	if err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return c.Update(id, jsonToDocument(obj))
}

func cmdDelete(eng *engine.Engine, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: delete COLLECTION ID")
	}
	c, err := eng.Collection(args[0])
	if err != nil {
		return err
	}
	id, err := value.ParseObjectIDHex(args[1])
	if err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}
	ok, err := c.Delete(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no document with id %s", args[1])
	}
	return nil
}

func cmdScan(eng *engine.Engine, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: scan COLLECTION")
	}
	c, err := eng.Collection(args[0])
	if err != nil {
		return err
	}
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	var scanErr error
	err = c.Scan(func(doc *document.Document) bool {
		if scanErr = writeDocumentJSON(out, doc); scanErr != nil {
			return false
		}
		return true
	})
	if scanErr != nil {
		return scanErr
	}
	return err
}

func cmdCompact(ctx context.Context, eng *engine.Engine) error {
	return eng.Compact(ctx)
}

// jsonToDocument turns a decoded JSON object into a Document, mapping
// JSON's scalar types onto the closest value.Value tag. It is CLI input
// glue, not a general entity mapper: floats with no fractional part
// become int64 so round-tripped IDs and counts survive as whole numbers.
func jsonToDocument(obj map[string]any) *document.Document {
	fields := make([]document.Field, 0, len(obj))
	for name, raw := range obj {
		fields = append(fields, document.Field{Name: name, Value: jsonToValue(raw)})
	}
	return document.New(fields...)
}

func jsonToValue(raw any) *value.Value {
	switch v := raw.(type) {
	case nil:
		return value.Null()
	case bool:
		return value.Bool(v)
	case string:
		return value.String(v)
	case float64:
		if v == float64(int64(v)) {
			return value.Int64(int64(v))
		}
		return value.Double(v)
	case []any:
		elems := make([]*value.Value, len(v))
		for i, e := range v {
			elems[i] = jsonToValue(e)
		}
		return value.Array(elems)
	case map[string]any:
		return value.Document(jsonToDocument(v))
	default:
		return value.Null()
	}
}

// writeDocumentJSON renders doc as one JSON object followed by a newline.
func writeDocumentJSON(w io.Writer, doc *document.Document) error {
	obj := documentToJSON(doc)
	enc := json.NewEncoder(w)
	return enc.Encode(obj)
}

func documentToJSON(doc *document.Document) map[string]any {
	out := make(map[string]any, doc.FieldCount())
	for _, f := range doc.Fields() {
		out[f.Name] = valueToJSON(f.Value)
	}
	return out
}

func valueToJSON(v *value.Value) any {
	switch v.Tag() {
	case value.TagNull:
		return nil
	case value.TagBool:
		return v.AsBool()
	case value.TagInt32, value.TagInt64:
		n, _ := v.TryInt64()
		return n
	case value.TagDouble:
		f, _ := v.TryFloat64()
		return f
	case value.TagString:
		return v.AsString()
	case value.TagObjectID:
		return v.AsObjectID().Hex()
	case value.TagArray:
		arr := v.AsArray()
		out := make([]any, len(arr))
		for i, e := range arr {
			out[i] = valueToJSON(e)
		}
		return out
	case value.TagDocument:
		if d, ok := v.AsDoc().(*document.Document); ok {
			return documentToJSON(d)
		}
		return nil
	default:
		return fmt.Sprintf("%v", v.Tag())
	}
}
