// Command repobatch runs the multi-repository batching scenarios against the
// storage driver selected by the REPOBATCH_* environment.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"repobatch/internal/core"
	"repobatch/internal/observability"
	"repobatch/pkg/domain"
	"repobatch/pkg/repository"
)

var (
	exitFunc   = os.Exit
	loadConfig = core.LoadConfig
	newLogger  = observability.NewZapLogger
)

// Contact is the first scenario entity.
type Contact struct {
	ContactID int    `json:"contact_id"`
	Name      string `json:"name,omitempty"`
}

// EntityKey implements domain.Entity.
func (c Contact) EntityKey() int { return c.ContactID }

// EmailAddress is the second scenario entity.
type EmailAddress struct {
	EmailAddressID int    `json:"email_address_id"`
	Email          string `json:"email,omitempty"`
}

// EntityKey implements domain.Entity.
func (e EmailAddress) EntityKey() int { return e.EmailAddressID }

type env struct {
	contacts *repository.Repository[Contact, int]
	emails   *repository.Repository[EmailAddress, int]
	opts     []repository.Option
}

type scenario struct {
	name string
	desc string
	run  func(ctx context.Context, e *env) error
}

var scenarios = []scenario{
	{"multi-add", "adds to two repositories become visible after the completed scope ends", runMultiAdd},
	{"multi-update", "update and delete across repositories apply after completion", runMultiUpdate},
	{"no-complete", "a scope ended without completion leaves both stores untouched", runNoComplete},
	{"single-batch", "a standalone batch applies only on commit", runSingleBatch},
	{"nested-abort", "an uncompleted nested scope aborts the outer transaction", runNestedAbort},
}

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("repobatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		only    string
		driver  string
		list    bool
		trace   bool
		metrics bool
	)
	fs.StringVar(&only, "scenario", "", "comma separated scenario names (default all)")
	fs.StringVar(&driver, "driver", "", "override REPOBATCH_STORAGE_DRIVER")
	fs.BoolVar(&list, "list", false, "list scenarios and exit")
	fs.BoolVar(&trace, "trace", false, "write JSON trace spans to stdout")
	fs.BoolVar(&metrics, "metrics", false, "print prometheus metrics after the run")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if list {
		for _, s := range scenarios {
			fmt.Fprintf(stdout, "%-13s %s\n", s.name, s.desc)
		}
		return 0
	}
	selected, err := selectScenarios(only)
	if err != nil {
		fmt.Fprintf(stderr, "repobatch: %v\n", err)
		return 2
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "repobatch: load config: %v\n", err)
		return 1
	}
	if driver != "" {
		cfg.Driver = core.StorageDriver(strings.ToLower(driver))
	}
	logger, err := newLogger(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(stderr, "repobatch: logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	recorder, err := observability.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		fmt.Fprintf(stderr, "repobatch: metrics: %v\n", err)
		return 1
	}
	opts := []repository.Option{repository.WithLogger(logger), repository.WithMetrics(recorder)}
	if trace {
		opts = append(opts, repository.WithTracer(observability.NewJSONTracer(stdout)))
	}

	if err := run(context.Background(), cfg, selected, opts, stdout); err != nil {
		fmt.Fprintf(stderr, "repobatch: %v\n", err)
		return 1
	}
	if metrics {
		if err := writeMetrics(reg, stdout); err != nil {
			fmt.Fprintf(stderr, "repobatch: metrics: %v\n", err)
			return 1
		}
	}
	return 0
}

func selectScenarios(only string) ([]scenario, error) {
	if strings.TrimSpace(only) == "" {
		return scenarios, nil
	}
	byName := make(map[string]scenario, len(scenarios))
	for _, s := range scenarios {
		byName[s.name] = s
	}
	var out []scenario
	for _, name := range strings.Split(only, ",") {
		s, ok := byName[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q", strings.TrimSpace(name))
		}
		out = append(out, s)
	}
	return out, nil
}

// run opens the backend once and executes each scenario on freshly reset
// contacts and emails stores.
func run(ctx context.Context, cfg core.Config, selected []scenario, opts []repository.Option, stdout io.Writer) (err error) {
	backend, err := core.OpenBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Driver, err)
	}
	defer func() {
		if cerr := backend.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close backend: %w", cerr)
		}
	}()

	var failed []string
	for _, s := range selected {
		e, err := newEnv(ctx, backend, opts)
		if err != nil {
			return err
		}
		if err := s.run(ctx, e); err != nil {
			failed = append(failed, s.name)
			fmt.Fprintf(stdout, "FAIL %s: %v\n", s.name, err)
			continue
		}
		fmt.Fprintf(stdout, "ok   %s\n", s.name)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d scenario(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

func newEnv(ctx context.Context, backend *core.Backend, opts []repository.Option) (*env, error) {
	contactStore, err := core.OpenRecordStore[Contact, int](ctx, backend, "contacts")
	if err != nil {
		return nil, fmt.Errorf("open contacts: %w", err)
	}
	emailStore, err := core.OpenRecordStore[EmailAddress, int](ctx, backend, "emails")
	if err != nil {
		return nil, fmt.Errorf("open emails: %w", err)
	}
	if err := reset[Contact, int](ctx, contactStore); err != nil {
		return nil, err
	}
	if err := reset[EmailAddress, int](ctx, emailStore); err != nil {
		return nil, err
	}
	return &env{
		contacts: repository.New[Contact, int](contactStore, opts...),
		emails:   repository.New[EmailAddress, int](emailStore, opts...),
		opts:     opts,
	}, nil
}

func reset[T domain.Entity[K], K comparable](ctx context.Context, store domain.RecordStore[T, K]) error {
	all, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("reset %s: %w", store.Name(), err)
	}
	for _, e := range all {
		if err := store.Delete(ctx, e.EntityKey()); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("reset %s: %w", store.Name(), err)
		}
	}
	return nil
}

func expectCounts(ctx context.Context, e *env, contacts, emails int) error {
	c, err := e.contacts.Count(ctx)
	if err != nil {
		return err
	}
	m, err := e.emails.Count(ctx)
	if err != nil {
		return err
	}
	if c != contacts || m != emails {
		return fmt.Errorf("expected %d contacts and %d emails, got %d and %d", contacts, emails, c, m)
	}
	return nil
}

func runMultiAdd(ctx context.Context, e *env) error {
	if err := expectCounts(ctx, e, 0, 0); err != nil {
		return err
	}
	scopeCtx, scope := repository.BeginScope(ctx, e.opts...)
	defer scope.End(scopeCtx)
	if err := e.contacts.Add(scopeCtx, Contact{ContactID: 1}); err != nil {
		return err
	}
	if err := e.emails.Add(scopeCtx, EmailAddress{EmailAddressID: 1}); err != nil {
		return err
	}
	if err := expectCounts(ctx, e, 0, 0); err != nil {
		return fmt.Errorf("inside scope: %w", err)
	}
	if err := scope.Complete(); err != nil {
		return err
	}
	if err := scope.End(scopeCtx); err != nil {
		return err
	}
	return expectCounts(ctx, e, 1, 1)
}

func runMultiUpdate(ctx context.Context, e *env) error {
	if err := e.contacts.Add(ctx, Contact{ContactID: 1, Name: "A"}); err != nil {
		return err
	}
	for _, id := range []int{1, 2} {
		if err := e.emails.Add(ctx, EmailAddress{EmailAddressID: id, Email: "A"}); err != nil {
			return err
		}
	}
	err := repository.RunInScope(ctx, func(scopeCtx context.Context) error {
		if err := e.contacts.Update(scopeCtx, Contact{ContactID: 1, Name: "B"}); err != nil {
			return err
		}
		if err := e.emails.Update(scopeCtx, EmailAddress{EmailAddressID: 1, Email: "B"}); err != nil {
			return err
		}
		if err := e.emails.DeleteEntity(scopeCtx, EmailAddress{EmailAddressID: 2}); err != nil {
			return err
		}
		return expectNames(scopeCtx, e, "A", "A", true)
	}, e.opts...)
	if err != nil {
		return err
	}
	return expectNames(ctx, e, "B", "B", false)
}

func expectNames(ctx context.Context, e *env, contactName, emailName string, secondEmail bool) error {
	c, ok, err := e.contacts.Find(ctx, func(c Contact) bool { return c.ContactID == 1 })
	if err != nil {
		return err
	}
	if !ok || c.Name != contactName {
		return fmt.Errorf("contact 1: want name %q, got %+v (found=%v)", contactName, c, ok)
	}
	m, ok, err := e.emails.Find(ctx, func(m EmailAddress) bool { return m.EmailAddressID == 1 })
	if err != nil {
		return err
	}
	if !ok || m.Email != emailName {
		return fmt.Errorf("email 1: want %q, got %+v (found=%v)", emailName, m, ok)
	}
	exists, err := e.emails.Exists(ctx, 2)
	if err != nil {
		return err
	}
	if exists != secondEmail {
		return fmt.Errorf("email 2: want present=%v, got %v", secondEmail, exists)
	}
	return nil
}

func runNoComplete(ctx context.Context, e *env) error {
	scopeCtx, scope := repository.BeginScope(ctx, e.opts...)
	if err := e.contacts.Add(scopeCtx, Contact{ContactID: 1}); err != nil {
		return err
	}
	if err := e.emails.Add(scopeCtx, EmailAddress{EmailAddressID: 1}); err != nil {
		return err
	}
	if err := scope.End(scopeCtx); err != nil {
		return err
	}
	return expectCounts(ctx, e, 0, 0)
}

func runSingleBatch(ctx context.Context, e *env) error {
	batch := e.contacts.BeginBatch()
	defer batch.Discard()
	if err := batch.Add(Contact{ContactID: 1}); err != nil {
		return err
	}
	if err := expectCounts(ctx, e, 0, 0); err != nil {
		return fmt.Errorf("before commit: %w", err)
	}
	if err := batch.Commit(ctx); err != nil {
		return err
	}
	return expectCounts(ctx, e, 1, 0)
}

func runNestedAbort(ctx context.Context, e *env) error {
	outerCtx, outer := repository.BeginScope(ctx, e.opts...)
	defer outer.End(outerCtx)
	if err := e.contacts.Add(outerCtx, Contact{ContactID: 1}); err != nil {
		return err
	}
	innerCtx, inner := repository.BeginScope(outerCtx)
	if err := e.emails.Add(innerCtx, EmailAddress{EmailAddressID: 1}); err != nil {
		return err
	}
	if err := inner.End(innerCtx); err != nil {
		return err
	}
	if err := outer.Complete(); err != nil {
		return err
	}
	if err := outer.End(outerCtx); !errors.Is(err, domain.ErrScopeAborted) {
		return fmt.Errorf("expected aborted scope, got %v", err)
	}
	return expectCounts(ctx, e, 0, 0)
}

func writeMetrics(reg prometheus.Gatherer, w io.Writer) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
