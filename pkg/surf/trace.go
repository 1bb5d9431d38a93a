package surf

import (
	"context"
	"sync"
	"time"
)

type traceKey struct{}

// CurrentTrace returns TraceSpan that is attached to given context. This
// function always returns valid TraceSpan implementation and it is safe to use
// the result. When no trace is attached to context, implementation that is
// discarding results is provided.
// CurrentTrace always returns first TraceSpan that covers the whole
// measurement period.
func CurrentTrace(ctx context.Context) TraceSpan {
	tr, ok := ctx.Value(traceKey{}).(*Trace)
	if !ok || tr == nil {
		return discardTraceSpan{}
	}
	return tr.spans[0]
}

type TraceSpan interface {
	// Begin creates and returns new measurement span. Current span is set
	// as parent of newly created and returned one.
	//
	// It is users responsibility to finish span.
	Begin(description string, keyvalues ...string) TraceSpan

	// Finish close given span and finalize measurement.
	Finish(keyvalues ...string)
}

// WithTrace attaches a new trace to the context. The root span is named after
// given description.
func WithTrace(ctx context.Context, description string) (context.Context, *Trace) {
	tr := &Trace{now: time.Now}
	tr.spans = []*span{
		{
			trace:       tr,
			ID:          generateID(),
			Description: description,
			Start:       tr.now(),
		},
	}
	return context.WithValue(ctx, traceKey{}, tr), tr
}

// Trace is a collection of measurement spans.
type Trace struct {
	now func() time.Time

	mu    sync.Mutex
	spans []*span
}

// Finish closes all spans that are still open, including the root one.
func (tr *Trace) Finish() {
	tr.mu.Lock()
	now := tr.now()
	for _, s := range tr.spans {
		if s.End == nil {
			s.End = &now
		}
	}
	tr.mu.Unlock()
}

// SpanInfo is a snapshot of a single measurement.
type SpanInfo struct {
	ID          string
	Parent      string
	Description string
	Args        []string
	Start       time.Time
	Duration    time.Duration
	Finished    bool
}

// Spans returns a snapshot of all spans in the order they were started.
func (tr *Trace) Spans() []SpanInfo {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	infos := make([]SpanInfo, 0, len(tr.spans))
	for _, s := range tr.spans {
		info := SpanInfo{
			ID:          s.ID,
			Parent:      s.Parent,
			Description: s.Description,
			Args:        append([]string(nil), s.Args...),
			Start:       s.Start,
		}
		if s.End != nil {
			info.Finished = true
			info.Duration = s.End.Sub(s.Start)
		}
		infos = append(infos, info)
	}
	return infos
}

type span struct {
	trace *Trace

	ID          string
	Parent      string
	Description string
	Args        []string
	Start       time.Time
	End         *time.Time
}

func (s *span) Begin(description string, keyvalues ...string) TraceSpan {
	if len(keyvalues)%2 == 1 {
		keyvalues = append(keyvalues, "")
	}
	ns := &span{
		trace:       s.trace,
		ID:          generateID(),
		Parent:      s.ID,
		Description: description,
		Start:       s.trace.now(),
		Args:        keyvalues,
	}

	s.trace.mu.Lock()
	s.trace.spans = append(s.trace.spans, ns)
	s.trace.mu.Unlock()

	return ns
}

func (s *span) Finish(keyvalues ...string) {
	if len(keyvalues)%2 == 1 {
		keyvalues = append(keyvalues, "")
	}

	s.trace.mu.Lock()
	now := s.trace.now()
	s.End = &now
	s.Args = append(s.Args, keyvalues...)
	s.trace.mu.Unlock()
}

type discardTraceSpan struct{}

func (d discardTraceSpan) Begin(string, ...string) TraceSpan { return d }
func (d discardTraceSpan) Finish(...string)                  {}
