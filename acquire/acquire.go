// Package acquire runs the vigie pipeline: it pulls French crime statistics,
// commune geometry, device-search results and OpenStreetMap surveillance
// nodes, and normalizes them into canonical CSV files for a dashboard.
//
// A run is sequential:
//
//	prepare workspace → Overpass → device search → downloads
//	  → crime normalization / geometry placement → raw cleanup
//
// A failed resource never aborts the run. It is listed in the report, which
// is then marked incomplete. Every decision is logged, recorded in the SQLite
// ledger and counted in Prometheus metrics.
//
// Usage:
//
//	svc, err := acquire.New(cfg, logger)
//	defer svc.Close()
//	report, err := svc.Run(ctx)
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/hazyhaar/vigie/acquire/internal/archive"
	"github.com/hazyhaar/vigie/acquire/internal/crime"
	"github.com/hazyhaar/vigie/acquire/internal/devices"
	"github.com/hazyhaar/vigie/acquire/internal/failure"
	"github.com/hazyhaar/vigie/acquire/internal/fetch"
	"github.com/hazyhaar/vigie/acquire/internal/overpass"
	"github.com/hazyhaar/vigie/acquire/internal/store"
	"github.com/hazyhaar/vigie/kit"
)

// Step names used in reports and the ledger.
const (
	StepWorkspace = "workspace"
	StepOverpass  = "overpass"
	StepDevices   = "devices"
	StepCommunes  = "communes"
	StepCrimes    = "crimes"
	StepGeometry  = "geometry"
	StepNormalize = "normalize"
	StepCleanup   = "cleanup"
)

// Failure is one step that did not produce its output.
type Failure struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

// FetchSummary tells where a downloaded resource came from.
type FetchSummary struct {
	Resource string `json:"resource"`
	Source   string `json:"source"`
	Path     string `json:"path,omitempty"`
}

// Report describes a finished run.
type Report struct {
	RunID      string         `json:"run_id"`
	Trigger    string         `json:"trigger"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Incomplete bool           `json:"incomplete"`
	Degraded   bool           `json:"degraded"` // a backup or the snapshot was used
	Failures   []Failure      `json:"failures,omitempty"`
	Fetches    []FetchSummary `json:"fetches,omitempty"`
	Devices    devices.Result `json:"devices"`
	Nodes      int            `json:"nodes"`
	Crime      crime.Stats    `json:"crime"`
}

func (r *Report) fail(step string, err error) {
	r.Incomplete = true
	r.Failures = append(r.Failures, Failure{Step: step, Error: err.Error()})
}

// Option customizes a Service.
type Option func(*Service)

// WithPoolFactory replaces how credentials become a device-search pool.
func WithPoolFactory(fn func(keys []string) *devices.Pool) Option {
	return func(s *Service) { s.newPool = fn }
}

// WithMetrics shares a Metrics instance instead of creating one.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service owns the ledger and runs the pipeline on demand.
type Service struct {
	cfg     *Config
	ws      Workspace
	store   *store.Store
	metrics *Metrics
	logger  *slog.Logger
	newPool func(keys []string) *devices.Pool

	mu sync.Mutex     // held for the duration of a run
	wg sync.WaitGroup // background runs started by Start
}

// New creates a Service and opens its ledger.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	s, err := store.Open(cfg.LedgerPath)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		cfg:    cfg,
		ws:     Workspace{Root: cfg.DataDir},
		store:  s,
		logger: logger,
		newPool: func(keys []string) *devices.Pool {
			return devices.NewHTTPPool(cfg.Devices.BaseURL, keys)
		},
	}
	for _, o := range opts {
		o(svc)
	}
	if svc.metrics == nil {
		svc.metrics = NewMetrics()
	}
	return svc, nil
}

// Close waits for background runs and closes the ledger.
func (s *Service) Close() error {
	s.wg.Wait()
	return s.store.Close()
}

// Metrics returns the service collectors.
func (s *Service) Metrics() *Metrics { return s.metrics }

// Workspace returns the data layout.
func (s *Service) Workspace() Workspace { return s.ws }

// Run executes one pipeline run. The returned error is reserved for
// conditions that stop the whole run (no credentials, workspace unusable,
// run already active, cancellation); per-resource failures are in the report.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	rep, run, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return rep, s.execute(ctx, rep, run)
}

// Start takes the run lock and records the run before returning its ID.
// The rest of the run continues in the background; Close waits for it.
// done, if non-nil, receives the final report.
func (s *Service) Start(ctx context.Context, done func(*Report, error)) (string, error) {
	if err := s.lock(); err != nil {
		return "", err
	}
	rep, run, err := s.begin(ctx)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.mu.Unlock()
		err := s.execute(ctx, rep, run)
		if done != nil {
			done(rep, err)
		}
	}()
	return rep.RunID, nil
}

func (s *Service) lock() error {
	if len(s.cfg.Credentials) == 0 {
		return ErrNoCredentials
	}
	if !s.mu.TryLock() {
		return ErrRunInProgress
	}
	return nil
}

func (s *Service) begin(ctx context.Context) (*Report, *store.Run, error) {
	rep := &Report{Trigger: kit.GetTransport(ctx), StartedAt: time.Now()}
	run := &store.Run{Trigger: rep.Trigger}
	if err := s.store.StartRun(ctx, run); err != nil {
		return nil, nil, err
	}
	rep.RunID = run.ID
	return rep, run, nil
}

func (s *Service) execute(ctx context.Context, rep *Report, run *store.Run) error {
	log := s.logger.With("run_id", run.ID)
	log.Info("acquire: run started", "trigger", rep.Trigger, "data_dir", s.ws.Root)

	err := s.run(ctx, log, rep)

	rep.FinishedAt = time.Now()
	s.finish(log, run, rep, err)
	return err
}

func (s *Service) run(ctx context.Context, log *slog.Logger, rep *Report) error {
	if err := s.ws.Prepare(); err != nil {
		rep.fail(StepWorkspace, err)
		return err
	}
	defer func() {
		if err := s.ws.CleanupRaw(); err != nil {
			log.Warn("acquire: raw cleanup failed", "error", err)
			rep.fail(StepCleanup, err)
			return
		}
		log.Info("acquire: raw storage cleared")
	}()

	s.queryOverpass(ctx, log, rep)
	if err := ctx.Err(); err != nil {
		return err
	}

	s.searchDevices(ctx, log, rep)
	if err := ctx.Err(); err != nil {
		return err
	}

	fetcher := s.newFetcher(ctx, rep)
	communes, cerr := fetcher.Fetch(ctx, fetch.Resource{
		Name: StepCommunes,
		URL:  s.cfg.Resources.Communes.URL, AlternateURL: s.cfg.Resources.Communes.AlternateURL,
		Dest: s.ws.Raw(communesRaw),
	})
	if cerr != nil {
		rep.fail(StepCommunes, cerr)
	}
	crimes, kerr := fetcher.Fetch(ctx, fetch.Resource{
		Name: StepCrimes,
		URL:  s.cfg.Resources.Crimes.URL, AlternateURL: s.cfg.Resources.Crimes.AlternateURL,
		Dest:      s.ws.Raw(crimesRaw),
		Transform: archive.Decompress,
	})
	if kerr != nil {
		rep.fail(StepCrimes, kerr)
	}
	geometry, gerr := fetcher.Fetch(ctx, fetch.Resource{
		Name: StepGeometry,
		URL:  s.cfg.Resources.Geometry.URL, AlternateURL: s.cfg.Resources.Geometry.AlternateURL,
		Dest: s.ws.Raw(GeometryFile),
	})
	if gerr != nil {
		rep.fail(StepGeometry, gerr)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if cerr == nil && kerr == nil {
		s.normalizeCrimes(log, rep, communes, crimes)
	} else {
		log.Warn("acquire: crime normalization skipped", "communes_ok", cerr == nil, "crimes_ok", kerr == nil)
	}
	if gerr == nil {
		s.placeGeometry(log, rep, geometry)
	}
	return nil
}

func (s *Service) queryOverpass(ctx context.Context, log *slog.Logger, rep *Report) {
	client := overpass.New(overpass.Config{
		Timeout:   s.cfg.Overpass.Timeout,
		UserAgent: s.cfg.Fetch.UserAgent,
		Post:      s.cfg.Overpass.Post,
	}, log)
	n, err := client.Query(ctx, s.cfg.Overpass.Endpoint, s.cfg.Overpass.Query, s.ws.Cleaned(OverpassFile))
	if err != nil {
		log.Warn("acquire: overpass query failed", "endpoint", s.cfg.Overpass.Endpoint, "error", err)
		rep.fail(StepOverpass, err)
		s.recordFetch(ctx, rep, &store.FetchLogEntry{
			Resource: StepOverpass, Source: string(fetch.SourceNone), URL: s.cfg.Overpass.Endpoint,
			ErrorClass: string(failure.Classify(0, err)), ErrorMessage: err.Error(),
		})
		return
	}
	rep.Nodes = n
	s.metrics.rowsWritten.WithLabelValues(OverpassFile).Add(float64(n))
	s.recordFetch(ctx, rep, &store.FetchLogEntry{
		Resource: StepOverpass, Source: string(fetch.SourcePrimary), URL: s.cfg.Overpass.Endpoint,
	})
}

func (s *Service) searchDevices(ctx context.Context, log *slog.Logger, rep *Report) {
	client := devices.NewClient(devices.Config{
		PageSize:     s.cfg.Devices.PageSize,
		MaxRetries:   s.cfg.Devices.MaxRetries,
		RetryBackoff: s.cfg.Devices.RetryBackoff,
		OutPath:      s.ws.Cleaned(DevicesFile),
		SnapshotPath: s.ws.SnapshotPath(),
	}, log)

	start := time.Now()
	res, err := client.Search(ctx, s.newPool(s.cfg.Credentials), s.cfg.Devices.Query, s.cfg.Devices.StartPage)
	rep.Devices = res
	s.metrics.devicePages.Add(float64(res.Pages))
	s.metrics.deviceEvicted.Add(float64(res.Evicted))

	entry := &store.FetchLogEntry{
		Resource:   StepDevices,
		Source:     string(res.Source),
		URL:        s.cfg.Devices.BaseURL,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		log.Error("acquire: device search failed", "error", err)
		rep.fail(StepDevices, err)
		entry.Source = string(fetch.SourceNone)
		entry.ErrorClass = string(failure.Classify(0, err))
		entry.ErrorMessage = err.Error()
		s.recordFetch(ctx, rep, entry)
		return
	}
	if res.Source == devices.SourceSnapshot {
		rep.Degraded = true
		entry.ErrorMessage = res.Reason
		s.metrics.deviceFallback.WithLabelValues(res.Reason).Inc()
	}
	s.metrics.rowsWritten.WithLabelValues(DevicesFile).Add(float64(res.Rows))
	s.recordFetch(ctx, rep, entry)
	log.Info("acquire: devices written", "source", res.Source, "rows", res.Rows, "pages", res.Pages)
}

func (s *Service) newFetcher(ctx context.Context, rep *Report) *fetch.Fetcher {
	cfg := fetch.Config{
		Timeout:   s.cfg.Fetch.Timeout,
		UserAgent: s.cfg.Fetch.UserAgent,
		BackupDir: s.ws.BackupDir(),
	}
	if s.cfg.Fetch.AllowPrivateHosts {
		cfg.URLValidator = func(string) error { return nil }
	}
	f := fetch.New(cfg, s.logger.With("run_id", rep.RunID))
	f.OnOutcome(func(o fetch.Outcome) {
		s.metrics.fetches.WithLabelValues(o.Resource, string(o.Source)).Inc()
		entry := &store.FetchLogEntry{
			Resource:   o.Resource,
			Source:     string(o.Source),
			URL:        o.URL,
			StatusCode: o.StatusCode,
			DurationMs: o.Duration.Milliseconds(),
		}
		if o.Err != nil {
			class := failure.Classify(o.StatusCode, o.Err)
			if errors.Is(o.Err, fetch.ErrTransform) {
				class = failure.ClassParse
			}
			s.metrics.fetchFailures.WithLabelValues(string(class)).Inc()
			entry.ErrorClass = string(class)
			entry.ErrorMessage = o.Err.Error()
		}
		if o.Source == fetch.SourceBackup {
			rep.Degraded = true
		}
		if o.Path != "" {
			rep.Fetches = append(rep.Fetches, FetchSummary{Resource: o.Resource, Source: string(o.Source), Path: o.Path})
		}
		s.recordFetch(ctx, rep, entry)
	})
	return f
}

func (s *Service) normalizeCrimes(log *slog.Logger, rep *Report, communesPath, crimesPath string) {
	communes, err := crime.LoadCommunes(communesPath)
	if err != nil {
		log.Error("acquire: commune reference unusable", "path", communesPath, "error", err)
		rep.fail(StepNormalize, err)
		return
	}
	stats, err := crime.Normalize(crimesPath, communes, s.ws.Cleaned(CrimesFile))
	rep.Crime = stats
	if err != nil {
		log.Error("acquire: crime normalization failed", "path", crimesPath, "error", err)
		rep.fail(StepNormalize, err)
		return
	}
	s.metrics.rowsWritten.WithLabelValues(CrimesFile).Add(float64(stats.Records))
	log.Info("acquire: crimes normalized",
		"raw_rows", stats.RawRows, "skipped", stats.SkippedRows,
		"records", stats.Records, "unmatched", stats.Unmatched)
}

// placeGeometry moves a downloaded geometry file into cleaned, or copies it
// when it is a backup so the backup stays in place.
func (s *Service) placeGeometry(log *slog.Logger, rep *Report, path string) {
	var (
		out string
		err error
	)
	if filepath.Dir(path) == s.ws.RawDir() {
		out, err = archive.Relocate(path, s.ws.CleanedDir())
	} else {
		out, err = archive.CopyInto(path, s.ws.CleanedDir())
	}
	if err != nil {
		log.Error("acquire: geometry placement failed", "path", path, "error", err)
		rep.fail(StepGeometry, err)
		return
	}
	log.Info("acquire: geometry placed", "path", out)
}

func (s *Service) recordFetch(ctx context.Context, rep *Report, e *store.FetchLogEntry) {
	e.RunID = rep.RunID
	if err := s.store.InsertFetchLog(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn("acquire: ledger write failed", "resource", e.Resource, "error", err)
	}
}

func (s *Service) finish(log *slog.Logger, run *store.Run, rep *Report, err error) {
	run.Status = store.StatusComplete
	switch {
	case err != nil:
		run.Status = store.StatusFailed
		run.ErrorMessage = err.Error()
	case rep.Incomplete:
		run.Status = store.StatusIncomplete
	}
	run.DeviceSource = string(rep.Devices.Source)
	run.Failures = make([]string, 0, len(rep.Failures))
	for _, f := range rep.Failures {
		run.Failures = append(run.Failures, fmt.Sprintf("%s: %s", f.Step, f.Error))
	}
	run.FinishedAt = rep.FinishedAt.UnixMilli()

	if ferr := s.store.FinishRun(context.Background(), run); ferr != nil {
		log.Warn("acquire: ledger finish failed", "error", ferr)
	}
	s.metrics.runs.WithLabelValues(run.Status).Inc()
	s.metrics.runDuration.Observe(rep.FinishedAt.Sub(rep.StartedAt).Seconds())

	log.Info("acquire: run finished",
		"status", run.Status,
		"degraded", rep.Degraded,
		"failures", len(rep.Failures),
		"duration_ms", rep.FinishedAt.Sub(rep.StartedAt).Milliseconds())
}

// Runs lists recent runs from the ledger.
func (s *Service) Runs(ctx context.Context, limit int) ([]*store.Run, error) {
	return s.store.ListRuns(ctx, limit)
}

// RunDetail is a run with its fetch log.
type RunDetail struct {
	Run     *store.Run             `json:"run"`
	Fetches []*store.FetchLogEntry `json:"fetches"`
}

// GetRun returns one run and its fetch log.
func (s *Service) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	r, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	fl, err := s.store.FetchHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RunDetail{Run: r, Fetches: fl}, nil
}

// Running reports whether a run is active.
func (s *Service) Running() bool {
	if s.mu.TryLock() {
		s.mu.Unlock()
		return false
	}
	return true
}
