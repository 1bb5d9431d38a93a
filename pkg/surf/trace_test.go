package surf

import (
	"context"
	"testing"
)

func TestTraceSpans(t *testing.T) {
	ctx, tr := WithTrace(context.Background(), "root")

	span := CurrentTrace(ctx).Begin("query", "sql", "SELECT 1")
	span.Begin("scan").Finish()
	span.Finish("rows", "1")
	tr.Finish()

	spans := tr.Spans()
	if len(spans) != 3 {
		t.Fatalf("want 3 spans, got %d", len(spans))
	}
	if spans[1].Parent != spans[0].ID || spans[2].Parent != spans[1].ID {
		t.Errorf("invalid span hierarchy: %+v", spans)
	}
	if got := spans[1].Args; len(got) != 4 || got[3] != "1" {
		t.Errorf("invalid span arguments: %q", got)
	}
	for _, s := range spans {
		if !s.Finished {
			t.Errorf("span %q not finished", s.Description)
		}
	}
}

func TestCurrentTraceWithoutTrace(t *testing.T) {
	// discarding implementation must be usable
	CurrentTrace(context.Background()).Begin("noop").Finish()
}
