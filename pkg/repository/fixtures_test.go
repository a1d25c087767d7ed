package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"repobatch/internal/infra/persistence/memory"
)

type Contact struct {
	ContactID int
	Name      string
}

func (c Contact) EntityKey() int { return c.ContactID }

type EmailAddress struct {
	EmailAddressID int
	Email          string
}

func (e EmailAddress) EntityKey() int { return e.EmailAddressID }

type tagged struct {
	ID   string
	Tags []string
}

func (t tagged) EntityKey() string { return t.ID }

func (t tagged) Clone() tagged {
	t.Tags = append([]string(nil), t.Tags...)
	return t
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *recordingLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

type observation struct {
	operation string
	success   bool
	duration  time.Duration
}

type recordingMetrics struct {
	mu  sync.Mutex
	obs []observation
}

func (m *recordingMetrics) Observe(_ context.Context, operation string, success bool, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obs = append(m.obs, observation{operation: operation, success: success, duration: d})
}

func (m *recordingMetrics) find(operation string) (observation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.obs {
		if o.operation == operation {
			return o, true
		}
	}
	return observation{}, false
}

type recordedSpan struct {
	operation string
	ended     int
	err       error
}

type recordingTracer struct {
	mu    sync.Mutex
	spans []*recordedSpan
}

func (t *recordingTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &recordedSpan{operation: operation}
	t.spans = append(t.spans, s)
	return ctx, &spanHandle{tracer: t, span: s}
}

type spanHandle struct {
	tracer *recordingTracer
	span   *recordedSpan
}

func (h *spanHandle) End(err error) {
	h.tracer.mu.Lock()
	defer h.tracer.mu.Unlock()
	h.span.ended++
	h.span.err = err
}

func (t *recordingTracer) operations() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.spans))
	for _, s := range t.spans {
		out = append(out, s.operation)
	}
	return out
}

// steppingClock advances one millisecond per call.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type fixture struct {
	contactStore *memory.Store[Contact, int]
	emailStore   *memory.Store[EmailAddress, int]
	contacts     *Repository[Contact, int]
	emails       *Repository[EmailAddress, int]
}

func newFixture(opts ...Option) fixture {
	cs := memory.NewStore[Contact, int]("contacts")
	es := memory.NewStore[EmailAddress, int]("emails")
	return fixture{
		contactStore: cs,
		emailStore:   es,
		contacts:     New[Contact, int](cs, opts...),
		emails:       New[EmailAddress, int](es, opts...),
	}
}

func (f fixture) counts(t *testing.T) (int, int) {
	t.Helper()
	ctx := context.Background()
	c, err := f.contacts.Count(ctx)
	if err != nil {
		t.Fatalf("count contacts: %v", err)
	}
	e, err := f.emails.Count(ctx)
	if err != nil {
		t.Fatalf("count emails: %v", err)
	}
	return c, e
}

func mustContact(t *testing.T, f fixture, id int) Contact {
	t.Helper()
	c, ok, err := f.contacts.Get(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("contact %d: ok=%v err=%v", id, ok, err)
	}
	return c
}

func mustEmail(t *testing.T, f fixture, id int) EmailAddress {
	t.Helper()
	e, ok, err := f.emails.Get(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("email %d: ok=%v err=%v", id, ok, err)
	}
	return e
}

// fakeParticipant appends its name to a shared journal on commit.
type fakeParticipant struct {
	name      string
	journal   *[]string
	err       error
	discarded int
}

func (p *fakeParticipant) Commit(context.Context) error {
	*p.journal = append(*p.journal, p.name)
	return p.err
}

func (p *fakeParticipant) Discard() { p.discarded++ }
