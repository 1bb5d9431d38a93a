package surf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLogger(&buf, "app", "test")

	lg.Error(context.Background(), errors.New("boom"), "cannot open", "driver", "sqlite")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("cannot decode log line %q: %s", buf.String(), err)
	}
	want := map[string]string{
		"level":   "error",
		"error":   "boom",
		"message": "cannot open",
		"driver":  "sqlite",
		"app":     "test",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("want %s=%q, got %v", k, v, entry[k])
		}
	}
}

func TestContextLogger(t *testing.T) {
	var first, second Recorder

	ctx := WithLogger(context.Background(), &first)
	ctx = WithLogger(ctx, &second)

	LogInfo(ctx, "hello", "key", "value")
	LogError(ctx, errors.New("bad"), "failed")

	for name, rec := range map[string]*Recorder{"first": &first, "second": &second} {
		entries := rec.Entries()
		if len(entries) != 2 {
			t.Fatalf("%s: want 2 entries, got %d", name, len(entries))
		}
		if entries[0].Args["key"] != "value" {
			t.Errorf("%s: want key argument, got %+v", name, entries[0].Args)
		}
		if entries[1].Level != "error" || entries[1].Error == nil {
			t.Errorf("%s: want error entry, got %+v", name, entries[1])
		}
	}
}

func TestLogWithoutLoggerIsDiscarded(t *testing.T) {
	// must not panic
	LogInfo(context.Background(), "nobody listens")
	LogError(context.Background(), errors.New("x"), "nobody listens")
}
