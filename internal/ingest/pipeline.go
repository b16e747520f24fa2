// Package ingest runs the staged ingestion pipeline: auth, fetch,
// extract, persist, encode. Each stage threads explicit state to the
// next; a terminal stage error aborts the run while item-level failures
// are collected into the RunReport and the run continues.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/lifeflow/internal/clock"
	"github.com/nhle/lifeflow/internal/embedding"
	"github.com/nhle/lifeflow/internal/extract"
	"github.com/nhle/lifeflow/internal/flow"
	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/provider"
	"github.com/nhle/lifeflow/internal/store"
	"github.com/nhle/lifeflow/internal/vector"
)

const (
	stageTimeout = 2 * time.Minute
	runTimeout   = 10 * time.Minute

	// refreshSkew triggers a token refresh slightly before expiry.
	refreshSkew = 5 * time.Minute

	fetchAttempts = 3
)

// SourceFactory builds provider adapters from a live credential.
type SourceFactory interface {
	Calendar(cred *model.ProviderCredential) (provider.CalendarSource, error)
	Mail(cred *model.ProviderCredential) (provider.MailSource, error)
	TaskManager(cred *model.ProviderCredential) (provider.TaskManagerSource, error)
}

// TokenRefresher exchanges a refresh token for fresh credential material.
type TokenRefresher interface {
	Refresh(ctx context.Context, cred *model.ProviderCredential) (*model.ProviderCredential, error)
}

// Pipeline coordinates ingestion runs. Safe for concurrent use; the
// per-(user, source) guard rejects duplicate runs with Busy.
type Pipeline struct {
	store     store.Store
	extractor *extract.Extractor
	factory   SourceFactory
	refresher TokenRefresher
	embedder  embedding.Embedder
	vectors   vector.Writer
	cfg       *model.AppConfig
	clk       clock.Clock
	logger    *slog.Logger

	guard   *runGuard
	limits  *limiterSet
	metrics *Metrics
}

// Options carries the optional collaborators of a Pipeline. A nil
// Embedder or Vectors disables the encode stage; a nil Refresher treats
// expired credentials as revoked.
type Options struct {
	Refresher TokenRefresher
	Embedder  embedding.Embedder
	Vectors   vector.Writer
	Logger    *slog.Logger
}

// New creates a pipeline.
func New(st store.Store, ex *extract.Extractor, factory SourceFactory, cfg *model.AppConfig, clk clock.Clock, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:     st,
		extractor: ex,
		factory:   factory,
		refresher: opts.Refresher,
		embedder:  opts.Embedder,
		vectors:   opts.Vectors,
		cfg:       cfg,
		clk:       clk,
		logger:    logger,
		guard:     newRunGuard(),
		limits:    newLimiterSet(cfg.ProviderRateLimits),
		metrics:   &Metrics{},
	}
}

// Metrics exposes the running success-rate counters.
func (p *Pipeline) Metrics() *Metrics { return p.metrics }

// runState is threaded through the stages of one run.
type runState struct {
	userID string
	source model.Source

	cred *model.ProviderCredential

	events   []provider.Event
	messages []provider.Message
	external []provider.ExternalTask

	tasks     []model.Task
	reminders []model.Reminder

	// changed holds tasks the persist stage created or updated; only
	// those are re-encoded.
	changed []model.Task

	report RunReport
}

type stage struct {
	name string
	run  func(ctx context.Context, st *runState) error
}

// Run executes one ingestion run for (user, source). A duplicate run for
// the same pair returns Busy. The returned report is non-nil whenever the
// run got past auth, even if a later stage failed.
func (p *Pipeline) Run(ctx context.Context, userID string, source model.Source) (*RunReport, error) {
	switch source {
	case model.SourceCalendar, model.SourceMail, model.SourceTaskManager:
	default:
		return nil, flow.Errorf(flow.KindInvalidRequest, "ingest.run", "unsupported source %q", source)
	}

	key := userID + "|" + string(source)
	if !p.guard.acquire(key) {
		return nil, flow.Errorf(flow.KindBusy, "ingest.run", "ingestion already running for %s/%s", userID, source)
	}
	defer p.guard.release(key)

	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	st := &runState{userID: userID, source: source}
	stages := []stage{
		{"auth", p.stageAuth},
		{"fetch", p.stageFetch},
		{"extract", p.stageExtract},
		{"persist", p.stagePersist},
		{"encode", p.stageEncode},
	}

	start := p.clk.Now()
	for _, s := range stages {
		if err := p.runStage(ctx, s, st); err != nil {
			p.metrics.record(true)
			p.logger.Error("ingestion aborted",
				"user_id", userID, "source", source, "stage", s.name, "error", err)
			return nil, err
		}
	}
	p.metrics.record(false)

	p.logger.Info("ingestion finished",
		"user_id", userID,
		"source", source,
		"fetched", st.report.Fetched,
		"persisted_new", st.report.PersistedNew,
		"persisted_updated", st.report.PersistedUpdated,
		"errors", len(st.report.Errors),
		"duration", p.clk.Now().Sub(start))

	return &st.report, nil
}

func (p *Pipeline) runStage(ctx context.Context, s stage, st *runState) error {
	ctx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()
	return s.run(ctx, st)
}

// stageAuth loads the credential, refreshing it when it is about to
// expire. A failed refresh marks the credential revoked.
func (p *Pipeline) stageAuth(ctx context.Context, st *runState) error {
	cred, err := p.store.GetCredential(ctx, st.userID, st.source)
	if errors.Is(err, store.ErrNotFound) {
		return flow.Errorf(flow.KindAuthRequired, "ingest.auth", "no %s credential, reconnect required", st.source)
	}
	if err != nil {
		return fmt.Errorf("loading %s credential: %w", st.source, err)
	}
	if cred.Status == model.CredentialRevoked {
		return flow.Errorf(flow.KindAuthRequired, "ingest.auth", "%s credential revoked, reconnect required", st.source)
	}

	if cred.NeedsRefresh(p.clk.Now(), refreshSkew) {
		refreshed, err := p.refresh(ctx, cred)
		if err != nil {
			if markErr := p.store.MarkCredentialRevoked(ctx, st.userID, st.source); markErr != nil {
				p.logger.Error("marking credential revoked", "user_id", st.userID, "provider", st.source, "error", markErr)
			}
			return flow.E(flow.KindAuthRequired, "ingest.auth", fmt.Errorf("refreshing %s credential: %w", st.source, err))
		}
		if err := p.store.SaveCredential(ctx, *refreshed); err != nil {
			return fmt.Errorf("saving refreshed credential: %w", err)
		}
		cred = refreshed
	}

	st.cred = cred
	return nil
}

func (p *Pipeline) refresh(ctx context.Context, cred *model.ProviderCredential) (*model.ProviderCredential, error) {
	if p.refresher == nil {
		return nil, errors.New("no refresher configured")
	}
	return p.refresher.Refresh(ctx, cred)
}

// stageFetch drains the provider inside the configured window. Auth
// errors are terminal; anything else is retried with backoff.
func (p *Pipeline) stageFetch(ctx context.Context, st *runState) error {
	if err := p.limits.wait(ctx, st.userID, st.source); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	now := p.clk.Now()
	fetch := func(ctx context.Context) (int, error) {
		switch st.source {
		case model.SourceCalendar:
			src, err := p.factory.Calendar(st.cred)
			if err != nil {
				return 0, err
			}
			w := p.cfg.IngestWindowCalendar
			events, err := src.FetchEvents(ctx, provider.Window{
				Start: now.AddDate(0, 0, -w.PastDays),
				End:   now.AddDate(0, 0, w.FutureDays),
			})
			st.events = events
			return len(events), err
		case model.SourceMail:
			src, err := p.factory.Mail(st.cred)
			if err != nil {
				return 0, err
			}
			msgs, err := src.FetchMessages(ctx, now.AddDate(0, 0, -p.cfg.IngestWindowMail.PastDays))
			st.messages = msgs
			return len(msgs), err
		default:
			src, err := p.factory.TaskManager(st.cred)
			if err != nil {
				return 0, err
			}
			items, err := src.FetchTasks(ctx)
			st.external = items
			return len(items), err
		}
	}

	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1<<attempt) * time.Second):
			}
		}
		n, err := fetch(ctx)
		if err == nil {
			st.report.Fetched = n
			return nil
		}
		if provider.IsAuthError(err) {
			return flow.E(flow.KindAuthRequired, "ingest.fetch", err)
		}
		if provider.IsRateLimitError(err) {
			// The adapter client already retried throttling internally.
			return flow.E(flow.KindRateLimited, "ingest.fetch", err)
		}
		lastErr = err
	}
	return flow.E(flow.KindTransient, "ingest.fetch", lastErr)
}

// stageExtract runs the extractor per item. Item failures never abort
// the stage.
func (p *Pipeline) stageExtract(ctx context.Context, st *runState) error {
	record := func(item extract.Item) {
		switch item.Kind {
		case extract.KindTask:
			if item.Task.IsSpam {
				st.report.SkippedSpam++
			} else {
				st.report.Extracted++
			}
			st.tasks = append(st.tasks, *item.Task)
		case extract.KindReminder:
			st.report.Extracted++
			st.reminders = append(st.reminders, *item.Reminder)
		case extract.KindSkip:
			st.report.SkippedOther++
		}
	}

	switch st.source {
	case model.SourceCalendar:
		for _, ev := range st.events {
			record(p.extractor.ExtractEvent(ctx, st.userID, ev))
		}
	case model.SourceMail:
		for _, msg := range st.messages {
			record(p.extractor.ExtractMessage(ctx, st.userID, msg))
		}
	default:
		for _, item := range st.external {
			record(p.extractor.ExtractExternalTask(ctx, st.userID, item))
		}
	}
	return nil
}

// stagePersist upserts every extracted item. Items without an external
// id get a deterministic content hash so re-ingest stays idempotent.
func (p *Pipeline) stagePersist(ctx context.Context, st *runState) error {
	for i := range st.tasks {
		task := st.tasks[i]
		// The store keeps the existing row id on re-ingest, so a fresh
		// UUID here only ever names new rows.
		task.ID = uuid.NewString()
		if task.ExternalID == "" {
			task.ExternalID = contentHash(task)
		}

		outcome, err := p.store.UpsertIngested(ctx, task)
		if err != nil {
			st.report.addError(fmt.Sprintf("persist %s: %v", task.ExternalID, err))
			p.logger.Warn("persisting task failed",
				"user_id", st.userID, "external_id", task.ExternalID, "error", err)
			continue
		}
		switch outcome {
		case store.UpsertCreated:
			st.report.PersistedNew++
			st.changed = append(st.changed, task)
		case store.UpsertUpdated:
			st.report.PersistedUpdated++
			st.changed = append(st.changed, task)
		}
	}

	for i := range st.reminders {
		st.reminders[i].ID = uuid.NewString()
		if err := p.store.UpsertReminder(ctx, st.reminders[i]); err != nil {
			st.report.addError(fmt.Sprintf("persist reminder %s: %v", st.reminders[i].ExternalID, err))
		}
	}
	return nil
}

// stageEncode embeds new and changed tasks into the vector store.
// Failures degrade the run but never fail it.
func (p *Pipeline) stageEncode(ctx context.Context, st *runState) error {
	if p.embedder == nil || p.vectors == nil || len(st.changed) == 0 {
		return nil
	}

	texts := make([]string, len(st.changed))
	for i, t := range st.changed {
		texts[i] = t.Title + "\n" + t.Description
	}

	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		st.report.addError(fmt.Sprintf("encode: embedding failed: %v", err))
		p.logger.Warn("encoding degraded", "user_id", st.userID, "error", err)
		return nil
	}

	docs := make([]vector.Document, len(st.changed))
	for i, t := range st.changed {
		docs[i] = vector.Document{
			ID:     string(t.Source) + ":" + t.ExternalID,
			Text:   texts[i],
			Vector: vectors[i],
			Metadata: map[string]string{
				"user_id":  t.UserID,
				"source":   string(t.Source),
				"priority": string(t.Priority),
			},
		}
	}
	if err := p.vectors.Upsert(ctx, docs); err != nil {
		st.report.addError(fmt.Sprintf("encode: vector upsert failed: %v", err))
		p.logger.Warn("encoding degraded", "user_id", st.userID, "error", err)
		return nil
	}

	st.report.Encoded = len(docs)
	return nil
}

// contentHash derives a stable identifier for items the provider did not
// key. The same logical item always hashes to the same id.
func contentHash(t model.Task) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d|%d",
		t.UserID, t.Source, t.Title, t.Start.Unix(), t.End.Unix())
	return hex.EncodeToString(h.Sum(nil))[:32]
}
