package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nhle/lifeflow/internal/clock"
	"github.com/nhle/lifeflow/internal/extract"
	"github.com/nhle/lifeflow/internal/flow"
	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/provider"
	"github.com/nhle/lifeflow/internal/store"
	"github.com/nhle/lifeflow/internal/testutil"
	"github.com/nhle/lifeflow/internal/vector"
)

var testNow = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

type fakeCalendar struct {
	events  []provider.Event
	err     error
	release chan struct{}
	calls   atomic.Int32
}

func (f *fakeCalendar) FetchEvents(ctx context.Context, _ provider.Window) ([]provider.Event, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.events, f.err
}

type fakeMail struct {
	messages []provider.Message
}

func (f *fakeMail) FetchMessages(context.Context, time.Time) ([]provider.Message, error) {
	return f.messages, nil
}

type fakeFactory struct {
	calendar provider.CalendarSource
	mail     provider.MailSource
	tasks    provider.TaskManagerSource
}

func (f *fakeFactory) Calendar(*model.ProviderCredential) (provider.CalendarSource, error) {
	if f.calendar == nil {
		return nil, errors.New("no calendar source")
	}
	return f.calendar, nil
}

func (f *fakeFactory) Mail(*model.ProviderCredential) (provider.MailSource, error) {
	if f.mail == nil {
		return nil, errors.New("no mail source")
	}
	return f.mail, nil
}

func (f *fakeFactory) TaskManager(*model.ProviderCredential) (provider.TaskManagerSource, error) {
	if f.tasks == nil {
		return nil, errors.New("no task manager source")
	}
	return f.tasks, nil
}

type fakeEmbedder struct{ calls int }

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

type fakeVectors struct {
	mu   sync.Mutex
	docs []vector.Document
}

func (f *fakeVectors) Upsert(_ context.Context, docs []vector.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, docs...)
	return nil
}

func seedCredential(t *testing.T, st store.Store, userID string, source model.Source) {
	t.Helper()
	err := st.SaveCredential(context.Background(), model.ProviderCredential{
		UserID:      userID,
		Provider:    source,
		AccessToken: "tok",
		Expiry:      testNow.Add(24 * time.Hour),
		Status:      model.CredentialActive,
		UpdatedAt:   testNow,
	})
	if err != nil {
		t.Fatalf("seeding credential: %v", err)
	}
}

func newTestPipeline(t *testing.T, st store.Store, factory SourceFactory, opts Options) *Pipeline {
	t.Helper()
	clk := clock.NewFake(testNow)
	logger := slog.New(slog.DiscardHandler)
	if opts.Logger == nil {
		opts.Logger = logger
	}
	cfg := &model.AppConfig{
		IngestWindowCalendar: model.WindowConfig{PastDays: 30, FutureDays: 90},
		IngestWindowMail:     model.WindowConfig{PastDays: 7},
		SpamLLMThreshold:     0.7,
	}
	ex := extract.New(nil, cfg.SpamLLMThreshold, cfg.LLMRetryBudget, clk, logger)
	return New(st, ex, factory, cfg, clk, opts)
}

func calendarEvents() []provider.Event {
	return []provider.Event{
		{
			ID: "e1", Status: "confirmed", Title: "Project sync",
			Start: testNow.Add(2 * time.Hour), End: testNow.Add(2*time.Hour + 30*time.Minute),
			Attendees: []string{"a@x"}, Location: "Room 1",
		},
		{
			ID: "e2", Status: "confirmed", Title: "Recurring standup",
			Start: testNow.Add(4 * time.Hour), End: testNow.Add(4*time.Hour + 15*time.Minute),
			Attendees: []string{"b@x"}, Recurrence: "RRULE:FREQ=DAILY",
		},
		{ID: "e3", Status: "cancelled", Title: "Old meeting"},
	}
}

func TestRunCalendarFirstIngest(t *testing.T) {
	st := testutil.NewTestStore(t)
	seedCredential(t, st, "u1", model.SourceCalendar)

	p := newTestPipeline(t, st, &fakeFactory{calendar: &fakeCalendar{events: calendarEvents()}}, Options{})

	report, err := p.Run(context.Background(), "u1", model.SourceCalendar)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Fetched != 3 || report.Extracted != 2 || report.SkippedOther != 1 || report.PersistedNew != 2 {
		t.Fatalf("report = %+v", report)
	}
	if len(report.Errors) != 0 {
		t.Fatalf("report errors = %v", report.Errors)
	}

	tasks, err := st.ListTasks(context.Background(), "u1", store.TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("persisted %d tasks, want 2", len(tasks))
	}
	for _, task := range tasks {
		if task.Source != model.SourceCalendar || task.SyncStatus != model.SyncStatusSynced {
			t.Fatalf("task = %+v", task)
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	st := testutil.NewTestStore(t)
	seedCredential(t, st, "u1", model.SourceCalendar)

	p := newTestPipeline(t, st, &fakeFactory{calendar: &fakeCalendar{events: calendarEvents()}}, Options{})

	if _, err := p.Run(context.Background(), "u1", model.SourceCalendar); err != nil {
		t.Fatalf("first run: %v", err)
	}
	report, err := p.Run(context.Background(), "u1", model.SourceCalendar)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.PersistedNew != 0 || report.PersistedUpdated != 0 {
		t.Fatalf("re-ingest must be a no-op, got %+v", report)
	}
}

func TestRunAssignsStableTaskIDs(t *testing.T) {
	st := testutil.NewTestStore(t)
	seedCredential(t, st, "u1", model.SourceCalendar)

	p := newTestPipeline(t, st, &fakeFactory{calendar: &fakeCalendar{events: calendarEvents()}}, Options{})
	if _, err := p.Run(context.Background(), "u1", model.SourceCalendar); err != nil {
		t.Fatalf("first run: %v", err)
	}

	tasks, err := st.ListTasks(context.Background(), "u1", store.TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("persisted %d tasks, want 2", len(tasks))
	}
	ids := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		if task.ID == "" {
			t.Fatalf("task %q persisted without an id", task.Title)
		}
		ids[task.ID] = true
	}
	if len(ids) != 2 {
		t.Fatalf("task ids not distinct across items: %d unique", len(ids))
	}

	// Re-ingest must keep the stored ids.
	if _, err := p.Run(context.Background(), "u1", model.SourceCalendar); err != nil {
		t.Fatalf("second run: %v", err)
	}
	tasks, err = st.ListTasks(context.Background(), "u1", store.TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks after re-ingest: %v", err)
	}
	for _, task := range tasks {
		if !ids[task.ID] {
			t.Fatalf("re-ingest replaced task id with %s", task.ID)
		}
	}
}

func TestRunRateLimitedFetchSurfacesRateLimited(t *testing.T) {
	st := testutil.NewTestStore(t)
	seedCredential(t, st, "u1", model.SourceCalendar)

	cal := &fakeCalendar{err: &provider.RateLimitError{Provider: model.SourceCalendar, Message: "429"}}
	p := newTestPipeline(t, st, &fakeFactory{calendar: cal}, Options{})

	_, err := p.Run(context.Background(), "u1", model.SourceCalendar)
	if !flow.Is(err, flow.KindRateLimited) {
		t.Fatalf("error = %v, want RateLimited", err)
	}
	// The adapter client owns throttling retries; the pipeline must not
	// stack its own on top.
	if got := cal.calls.Load(); got != 1 {
		t.Fatalf("fetch calls = %d, want 1", got)
	}
}

func TestRunPreservesUserFlagsAcrossReingest(t *testing.T) {
	st := testutil.NewTestStore(t)
	seedCredential(t, st, "u1", model.SourceCalendar)

	p := newTestPipeline(t, st, &fakeFactory{calendar: &fakeCalendar{events: calendarEvents()}}, Options{})
	if _, err := p.Run(context.Background(), "u1", model.SourceCalendar); err != nil {
		t.Fatalf("first run: %v", err)
	}

	task, err := st.GetTaskByExternalID(context.Background(), "u1", model.SourceCalendar, "e1")
	if err != nil {
		t.Fatalf("GetTaskByExternalID: %v", err)
	}
	yes := true
	if _, err := st.UpdateTaskFlags(context.Background(), "u1", task.ID, model.TaskFlags{IsCritical: &yes}, testNow); err != nil {
		t.Fatalf("UpdateTaskFlags: %v", err)
	}

	if _, err := p.Run(context.Background(), "u1", model.SourceCalendar); err != nil {
		t.Fatalf("second run: %v", err)
	}
	task, err = st.GetTask(context.Background(), "u1", task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if !task.IsCritical {
		t.Fatal("user flag lost across re-ingest")
	}
}

func TestRunRejectsDuplicateWithBusy(t *testing.T) {
	st := testutil.NewTestStore(t)
	seedCredential(t, st, "u1", model.SourceCalendar)

	cal := &fakeCalendar{events: calendarEvents(), release: make(chan struct{})}
	p := newTestPipeline(t, st, &fakeFactory{calendar: cal}, Options{})

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := p.Run(context.Background(), "u1", model.SourceCalendar)
		done <- err
	}()
	<-started
	// Wait until the first run is inside fetch and holds the guard.
	for i := 0; i < 100; i++ {
		if cal.calls.Load() > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, err := p.Run(context.Background(), "u1", model.SourceCalendar)
	if !flow.Is(err, flow.KindBusy) {
		t.Fatalf("duplicate run error = %v, want Busy", err)
	}

	close(cal.release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}

	// The guard is released; a new run succeeds.
	if _, err := p.Run(context.Background(), "u1", model.SourceCalendar); err != nil {
		t.Fatalf("run after release: %v", err)
	}
}

func TestRunWithoutCredentialFailsAuthRequired(t *testing.T) {
	st := testutil.NewTestStore(t)
	p := newTestPipeline(t, st, &fakeFactory{calendar: &fakeCalendar{}}, Options{})

	_, err := p.Run(context.Background(), "u1", model.SourceCalendar)
	if !flow.Is(err, flow.KindAuthRequired) {
		t.Fatalf("error = %v, want AuthRequired", err)
	}
}

func TestRunExpiredCredentialWithoutRefresherRevokes(t *testing.T) {
	st := testutil.NewTestStore(t)
	err := st.SaveCredential(context.Background(), model.ProviderCredential{
		UserID:      "u1",
		Provider:    model.SourceCalendar,
		AccessToken: "tok",
		Expiry:      testNow.Add(-time.Hour),
		Status:      model.CredentialActive,
		UpdatedAt:   testNow,
	})
	if err != nil {
		t.Fatalf("seeding credential: %v", err)
	}

	p := newTestPipeline(t, st, &fakeFactory{calendar: &fakeCalendar{}}, Options{})

	_, runErr := p.Run(context.Background(), "u1", model.SourceCalendar)
	if !flow.Is(runErr, flow.KindAuthRequired) {
		t.Fatalf("error = %v, want AuthRequired", runErr)
	}

	cred, err := st.GetCredential(context.Background(), "u1", model.SourceCalendar)
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if cred.Status != model.CredentialRevoked {
		t.Fatalf("credential status = %s, want revoked", cred.Status)
	}
}

func TestRunMailCountsSpamAndPersistsIt(t *testing.T) {
	st := testutil.NewTestStore(t)
	seedCredential(t, st, "u1", model.SourceMail)

	mail := &fakeMail{messages: []provider.Message{
		{
			ID: "m1", From: "offers@deals.example.com",
			Subject: "50% off membership!", Body: "Limited time offer, unsubscribe anytime.",
			Labels: []string{"CATEGORY_PROMOTIONS"}, Date: testNow,
		},
		{
			ID: "m2", From: "boss@example.com",
			Subject: "Please review the report", Body: "Need your review, due tomorrow.",
			Date: testNow,
		},
	}}
	p := newTestPipeline(t, st, &fakeFactory{mail: mail}, Options{})

	report, err := p.Run(context.Background(), "u1", model.SourceMail)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.SkippedSpam != 1 || report.Extracted != 1 || report.PersistedNew != 2 {
		t.Fatalf("report = %+v", report)
	}

	spam, err := st.GetTaskByExternalID(context.Background(), "u1", model.SourceMail, "m1")
	if err != nil {
		t.Fatalf("spam task not persisted: %v", err)
	}
	if !spam.IsSpam || spam.SpamReason == "" {
		t.Fatalf("spam task = %+v", spam)
	}

	// Spam is hidden from the default task listing.
	visible, err := st.ListTasks(context.Background(), "u1", store.TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(visible) != 1 {
		t.Fatalf("visible tasks = %d, want 1", len(visible))
	}
}

func TestRunEncodesChangedTasks(t *testing.T) {
	st := testutil.NewTestStore(t)
	seedCredential(t, st, "u1", model.SourceCalendar)

	emb := &fakeEmbedder{}
	vecs := &fakeVectors{}
	p := newTestPipeline(t, st, &fakeFactory{calendar: &fakeCalendar{events: calendarEvents()}},
		Options{Embedder: emb, Vectors: vecs})

	report, err := p.Run(context.Background(), "u1", model.SourceCalendar)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Encoded != 2 || len(vecs.docs) != 2 {
		t.Fatalf("encoded = %d, docs = %d", report.Encoded, len(vecs.docs))
	}

	// Unchanged re-ingest encodes nothing.
	report, err = p.Run(context.Background(), "u1", model.SourceCalendar)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Encoded != 0 || emb.calls != 1 {
		t.Fatalf("re-ingest encoded = %d, embed calls = %d", report.Encoded, emb.calls)
	}
}

func TestRunUnsupportedSource(t *testing.T) {
	st := testutil.NewTestStore(t)
	p := newTestPipeline(t, st, &fakeFactory{}, Options{})

	_, err := p.Run(context.Background(), "u1", model.SourceManual)
	if !flow.Is(err, flow.KindInvalidRequest) {
		t.Fatalf("error = %v, want InvalidRequest", err)
	}
}

func TestMetricsSuccessRate(t *testing.T) {
	st := testutil.NewTestStore(t)
	seedCredential(t, st, "u1", model.SourceCalendar)

	p := newTestPipeline(t, st, &fakeFactory{calendar: &fakeCalendar{events: calendarEvents()}}, Options{})
	if rate := p.Metrics().SuccessRate(); rate != 1.0 {
		t.Fatalf("initial rate = %v", rate)
	}

	if _, err := p.Run(context.Background(), "u1", model.SourceCalendar); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := p.Run(context.Background(), "u2", model.SourceCalendar); !flow.Is(err, flow.KindAuthRequired) {
		t.Fatalf("expected AuthRequired, got %v", err)
	}

	if rate := p.Metrics().SuccessRate(); rate != 0.5 {
		t.Fatalf("rate = %v, want 0.5", rate)
	}
	if p.Metrics().Runs() != 2 {
		t.Fatalf("runs = %d", p.Metrics().Runs())
	}
}
