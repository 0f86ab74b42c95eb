package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/worklets/internal/native"
)

// maxRecordSize bounds one line of an event stream.
const maxRecordSize = 1 << 20

var (
	errInvalidRecord = errors.New("record is not a JSON object")
	errUnknownRecord = errors.New("record has none of event, tag, render, set or snapshot")
)

// replayer feeds a JSON-lines event stream into a module. Each line is one
// record:
//
//	{"event": "onTap", "ts": 16, "payload": {...}}
//	{"tag": 7, "type": "topScroll", "ts": 20, "payload": {...}}
//	{"render": 32}
//	{"set": {"key": value, ...}}
//	{"snapshot": true}
//
// ts defaults to the module clock. Blank lines and lines starting with #
// are skipped.
type replayer struct {
	module *native.Module
	out    *output

	line      int
	records   int
	failures  int
	snapshots int
}

func newReplayer(m *native.Module, out *output) *replayer {
	return &replayer{module: m, out: out}
}

func (r *replayer) replay(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	for sc.Scan() {
		r.line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 || text[0] == '#' {
			continue
		}
		if err := r.step(ctx, text); err != nil {
			return fmt.Errorf("line %d: %w", r.line, err)
		}
		r.records++
	}
	return sc.Err()
}

func (r *replayer) step(ctx context.Context, line []byte) error {
	if !gjson.ValidBytes(line) {
		return errInvalidRecord
	}
	rec := gjson.ParseBytes(line)
	if !rec.IsObject() {
		return errInvalidRecord
	}

	ts := r.module.Now()
	if v := rec.Get("ts"); v.Exists() {
		ts = v.Float()
	}

	switch {
	case rec.Get("event").Exists():
		name := rec.Get("event").String()
		return r.check("event "+name, r.module.OnEvent(ctx, ts, name, rec.Get("payload").Value()))
	case rec.Get("tag").Exists():
		name := native.EventName(int(rec.Get("tag").Int()), rec.Get("type").String())
		return r.check("event "+name, r.module.OnEvent(ctx, ts, name, rec.Get("payload").Value()))
	case rec.Get("render").Exists():
		return r.check("frame", r.module.OnRender(ctx, rec.Get("render").Float()))
	case rec.Get("set").IsObject():
		store := r.module.Store()
		rec.Get("set").ForEach(func(key, value gjson.Result) bool {
			store.Set(key.String(), value.Value())
			return true
		})
		return nil
	case rec.Get("snapshot").Bool():
		return r.snapshot()
	default:
		return errUnknownRecord
	}
}

// check counts worklet failures, which the module has already reported, and
// stops the replay on anything else.
func (r *replayer) check(what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, native.ErrModuleClosed) || errors.Is(err, context.Canceled) {
		return err
	}
	r.failures++
	r.out.verbosef("line %d: %s: %v", r.line, what, err)
	return nil
}

// snapshot prints the shared store.
func (r *replayer) snapshot() error {
	r.snapshots++
	values, err := storeJSON(r.module.Store().Snapshot())
	if err != nil {
		return err
	}

	if r.out.json() {
		doc, err := sjson.SetBytes([]byte(`{}`), "snapshot", r.snapshots)
		if err != nil {
			return err
		}
		if doc, err = sjson.SetBytes(doc, "line", r.line); err != nil {
			return err
		}
		if doc, err = sjson.SetRawBytes(doc, "values", values); err != nil {
			return err
		}
		_, err = fmt.Fprintf(r.out.w, "%s\n", doc)
		return err
	}

	fmt.Fprintf(r.out.w, "snapshot %d (line %d)\n", r.snapshots, r.line)
	gjson.ParseBytes(values).ForEach(func(key, value gjson.Result) bool {
		fmt.Fprintf(r.out.w, "  %s = %s\n", key.String(), value.Raw)
		return true
	})
	return nil
}

// storeJSON renders store values as one JSON object with sorted keys.
func storeJSON(values map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := []byte(`{}`)
	for _, k := range keys {
		var err error
		if doc, err = sjson.SetBytes(doc, escapePath(k), values[k]); err != nil {
			return nil, fmt.Errorf("shared value %q: %w", k, err)
		}
	}
	return doc, nil
}

var pathEscaper = strings.NewReplacer(`\`, `\\`, ".", `\.`, "*", `\*`, "?", `\?`)

// escapePath makes a store key usable as a single sjson path component.
func escapePath(key string) string {
	return pathEscaper.Replace(key)
}
