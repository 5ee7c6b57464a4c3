// Package assist is the query assistance controller: it keeps the identifier catalog
// fresh, serves completions, picks the active hint and runs the AI repair cycle for an
// interactive PromQL editor.
package assist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jjo/promql-assist/pkg/ai"
	"github.com/jjo/promql-assist/pkg/datasource"
	"github.com/jjo/promql-assist/pkg/language"
)

const (
	// completionHistory is how many recent queries are passed to the provider.
	completionHistory = 10
	defaultHistoryCap = 100
)

// Chooser states shown by the metrics browser control.
const (
	ChooserDisabled = "(Disabled)"
	ChooserLoading  = "Loading metrics..."
	ChooserEmpty    = "(No metrics found)"
	ChooserReady    = "Metrics browser"
)

// LabelStore persists the label browser's last used labels.
type LabelStore interface {
	LastUsedLabels() ([]string, error)
	SaveLastUsedLabels(labels []string) error
}

// HistoryStore persists executed queries.
type HistoryStore interface {
	// History returns up to limit queries, newest first.
	History(limit int) ([]string, error)
	AppendHistory(query string, limit int) error
}

// Options configures a Controller.
type Options struct {
	Datasource datasource.Datasource
	Provider   language.Provider
	// AI is used to build the chat client when AIClient is nil.
	AI       ai.Config
	AIClient ai.Client
	Labels   LabelStore
	History  HistoryStore
	// HistoryCap bounds the persisted history; zero means 100.
	HistoryCap   int
	InitialQuery string
	Window       TimeWindow

	// OnChange receives the query text on every edit and on accepted rewrites.
	OnChange func(text string)
	// OnRunQuery asks the host to execute the current query.
	OnRunQuery func()
	// OnError receives catalog load failures.
	OnError func(err error)
	// OnCatalog is called after a catalog swap.
	OnCatalog func(cat *Catalog)

	Logger *slog.Logger
}

// Controller is the state object behind one editor. It is safe for concurrent use;
// provider, datasource and chat calls run outside its lock.
type Controller struct {
	mu sync.Mutex

	ds       datasource.Datasource
	provider language.Provider
	ai       ai.Client
	aiModel  string
	labels   LabelStore
	hist     HistoryStore
	histCap  int
	logger   *slog.Logger

	onChange   func(string)
	onRunQuery func()
	onError    func(error)
	onCatalog  func(*Catalog)

	query   string
	window  TimeWindow
	history []string

	sched   scheduler
	catalog atomic.Pointer[Catalog]
	gen     uint64
	current *LoadHandle

	baseCtx    context.Context
	baseCancel context.CancelFunc
	mounted    bool

	last       *datasource.Data
	hint       *language.Hint
	hintKey    seriesKey
	hintPrimed bool
	session    RepairSession
	lastLabels []string
}

// New builds a controller. Credentials reach the chat client only through opts.AI.
func New(opts Options) (*Controller, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		ds:         opts.Datasource,
		provider:   opts.Provider,
		ai:         opts.AIClient,
		aiModel:    opts.AI.Model,
		labels:     opts.Labels,
		hist:       opts.History,
		histCap:    opts.HistoryCap,
		logger:     logger.With("component", "assist"),
		onChange:   opts.OnChange,
		onRunQuery: opts.OnRunQuery,
		onError:    opts.OnError,
		onCatalog:  opts.OnCatalog,
		query:      opts.InitialQuery,
		window:     opts.Window,
		session:    RepairSession{Status: RepairIdle},
	}
	if c.ai == nil && opts.AI.Enabled() {
		client, err := ai.NewClient(opts.AI, nil)
		if err != nil {
			return nil, fmt.Errorf("ai client: %w", err)
		}
		c.ai = client
	}
	if c.histCap <= 0 {
		c.histCap = defaultHistoryCap
	}
	if c.onChange == nil {
		c.onChange = func(string) {}
	}
	if c.onRunQuery == nil {
		c.onRunQuery = func() {}
	}
	return c, nil
}

// Mount attaches the controller to its editor: state is loaded from the stores, the
// initial hint is computed and, with a provider attached, a catalog load starts.
func (c *Controller) Mount(ctx context.Context) *LoadHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.baseCancel != nil {
		c.baseCancel()
	}
	c.baseCtx, c.baseCancel = context.WithCancel(ctx)
	c.mounted = true

	if c.hist != nil {
		items, err := c.hist.History(c.histCap)
		if err != nil {
			c.logger.Warn("history unavailable", "error", err)
		} else {
			c.history = items
		}
	}
	if c.labels != nil {
		lbls, err := c.labels.LastUsedLabels()
		if err != nil {
			c.logger.Warn("last used labels unavailable", "error", err)
		} else {
			c.lastLabels = lbls
		}
	}
	c.refreshHintLocked(true)

	if d := c.sched.shouldRefresh(EventMount, c.window, c.provider != nil); d.Refresh {
		return c.startLoadLocked()
	}
	return nil
}

// Unmount cancels the current load and detaches the controller.
func (c *Controller) Unmount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLoadLocked()
	if c.baseCancel != nil {
		c.baseCancel()
		c.baseCancel = nil
	}
	c.mounted = false
}

// CancelLoad invalidates the current load, if any.
func (c *Controller) CancelLoad() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLoadLocked()
}

// RangeChanged records the visible window and refreshes the catalog when it moved by at
// least a minute.
func (c *Controller) RangeChanged(w TimeWindow) *LoadHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window = w
	if d := c.sched.shouldRefresh(EventRangeChanged, w, c.provider != nil); d.Refresh {
		return c.startLoadLocked()
	}
	return nil
}

// DatasourceChanged swaps the datasource and provider. The catalog is dropped at once so
// no suggestion from the previous provider is ever served.
func (c *Controller) DatasourceChanged(ds datasource.Datasource, p language.Provider) *LoadHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLoadLocked()
	c.ds = ds
	c.provider = p
	d := c.sched.shouldRefresh(EventDatasourceChanged, c.window, p != nil)
	if d.ResetReady {
		c.catalog.Store(nil)
	}
	if d.Refresh {
		return c.startLoadLocked()
	}
	return nil
}

// ResultsChanged records executed results and recomputes the hint when the series
// collection is a different one.
func (c *Controller) ResultsChanged(data *datasource.Data) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = data
	c.refreshHintLocked(false)
}

// Edit records a text edit. A staged or in-flight rewrite becomes stale and is dropped;
// a response still in flight no longer matches the session and is discarded.
func (c *Controller) Edit(text string) {
	c.mu.Lock()
	c.query = text
	if c.session.Status != RepairIdle {
		c.session = RepairSession{Status: RepairIdle}
	}
	onChange := c.onChange
	c.mu.Unlock()
	onChange(text)
}

// RunQuery executes the current query over the visible window, records it in history
// and feeds the results to the hint advisory.
func (c *Controller) RunQuery(ctx context.Context) (*datasource.Data, error) {
	c.mu.Lock()
	ds, query, w := c.ds, c.query, c.window
	c.mu.Unlock()
	if ds == nil {
		return nil, ErrNoDatasource
	}
	data, err := ds.Run(ctx, query, w)
	if err != nil {
		return nil, err
	}
	c.recordHistory(query)
	c.ResultsChanged(data)
	return data, nil
}

// ApplyHintFix rewrites the query with the active hint's fix and asks the host to run it.
func (c *Controller) ApplyHintFix() error {
	c.mu.Lock()
	if c.hint == nil || c.hint.Fix == nil {
		c.mu.Unlock()
		return ErrNoHintFix
	}
	if c.ds == nil {
		c.mu.Unlock()
		return ErrNoDatasource
	}
	text := c.ds.ModifyQuery(c.query, c.hint.Fix.Action)
	c.query = text
	if c.session.Status == RepairStaged {
		c.session = RepairSession{Status: RepairIdle}
	}
	onChange, onRun := c.onChange, c.onRunQuery
	c.mu.Unlock()

	onChange(text)
	onRun()
	return nil
}

// SelectFromLabelBrowser replaces the query with selector, remembers the labels used to
// build it and asks the host to run it.
func (c *Controller) SelectFromLabelBrowser(selector string, labels []string) error {
	c.mu.Lock()
	c.query = selector
	c.lastLabels = append([]string(nil), labels...)
	store := c.labels
	onChange, onRun := c.onChange, c.onRunQuery
	c.mu.Unlock()

	var err error
	if store != nil {
		if err = store.SaveLastUsedLabels(labels); err != nil {
			err = fmt.Errorf("save last used labels: %w", err)
		}
	}
	onChange(selector)
	onRun()
	return err
}

// Catalog returns the current catalog snapshot, nil until the first successful load.
func (c *Controller) Catalog() *Catalog { return c.catalog.Load() }

// Query returns the live query text.
func (c *Controller) Query() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

// Window returns the visible time window.
func (c *Controller) Window() TimeWindow {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window
}

// Hint returns the active hint, if any.
func (c *Controller) Hint() *language.Hint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hint
}

// View is the render contract handed to hosts.
type View struct {
	Query           string                  `json:"query"`
	ChooserText     string                  `json:"chooserText"`
	Ready           bool                    `json:"ready"`
	LookupsDisabled bool                    `json:"lookupsDisabled"`
	Hint            *language.Hint          `json:"hint,omitempty"`
	Repair          RepairSession           `json:"repair"`
	CanRepair       bool                    `json:"canRepair"`
	Errors          []datasource.QueryError `json:"errors,omitempty"`
	LastUsedLabels  []string                `json:"lastUsedLabels,omitempty"`
	Window          TimeWindow              `json:"window"`
}

// View snapshots everything a host needs to render the editor chrome.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	cat := c.catalog.Load()
	v := View{
		Query:          c.query,
		Ready:          cat.Ready(),
		Hint:           c.hint,
		Repair:         c.session,
		CanRepair:      c.canRepairLocked(),
		LastUsedLabels: append([]string(nil), c.lastLabels...),
		Window:         c.window,
	}
	if c.ds != nil {
		v.LookupsDisabled = c.ds.LookupsDisabled()
	}
	if c.last != nil {
		v.Errors = c.last.Errors
	}
	v.ChooserText = chooserText(v.LookupsDisabled, cat)
	return v
}

func chooserText(disabled bool, cat *Catalog) string {
	switch {
	case disabled:
		return ChooserDisabled
	case !cat.Ready():
		return ChooserLoading
	case len(cat.MetricNames()) == 0:
		return ChooserEmpty
	}
	return ChooserReady
}

func (c *Controller) refreshHintLocked(force bool) {
	key := keyOf(c.last)
	if !force && c.hintPrimed && key == c.hintKey {
		return
	}
	var series []datasource.Series
	if c.last != nil {
		series = c.last.Series
	}
	c.hint = computeHint(c.provider, c.query, series)
	c.hintKey = key
	c.hintPrimed = true
}

func (c *Controller) recordHistory(query string) {
	if query == "" {
		return
	}
	c.mu.Lock()
	if len(c.history) == 0 || c.history[0] != query {
		c.history = append([]string{query}, c.history...)
		if len(c.history) > c.histCap {
			c.history = c.history[:c.histCap]
		}
	}
	store, limit := c.hist, c.histCap
	c.mu.Unlock()
	if store != nil {
		if err := store.AppendHistory(query, limit); err != nil {
			c.logger.Warn("history not saved", "error", err)
		}
	}
}

// recentHistory must be called with c.mu held.
func (c *Controller) recentHistory() []string {
	n := len(c.history)
	if n > completionHistory {
		n = completionHistory
	}
	return append([]string(nil), c.history[:n]...)
}

func (c *Controller) cancelLoadLocked() {
	if c.current != nil {
		c.current.cancel()
		c.current = nil
	}
}

func (c *Controller) startLoadLocked() *LoadHandle {
	c.cancelLoadLocked()
	c.gen++
	parent := c.baseCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &LoadHandle{gen: c.gen, cancel: cancel, done: make(chan struct{})}
	c.current = h
	p := c.provider
	if ra, ok := p.(language.RangeAware); ok {
		ra.SetRange(c.window)
	}
	go c.runLoad(ctx, h, p)
	return h
}

func (c *Controller) runLoad(ctx context.Context, h *LoadHandle, p language.Provider) {
	start := time.Now()
	cat, err := loadCatalog(ctx, p)

	c.mu.Lock()
	current := c.current == h
	var res LoadResult
	switch {
	case !current || (err != nil && isCancellation(err) && ctx.Err() != nil):
		res = LoadResult{Outcome: LoadCancelled}
	case err != nil:
		res = LoadResult{Outcome: LoadFailed, Err: fmt.Errorf("%w: %w", ErrProviderFailure, err)}
	default:
		c.catalog.Store(cat)
		res = LoadResult{Outcome: LoadSucceeded, Catalog: cat}
	}
	if current {
		c.current = nil
	}
	onError, onCatalog := c.onError, c.onCatalog
	c.mu.Unlock()
	h.cancel()

	observeLoad(res.Outcome, time.Since(start))
	switch res.Outcome {
	case LoadFailed:
		c.logger.Error("catalog load failed", "generation", h.gen, "error", err)
	case LoadSucceeded:
		c.logger.Debug("catalog loaded", "generation", h.gen, "metrics", len(cat.MetricNames()), "took", time.Since(start))
	}
	h.result = res
	close(h.done)

	switch {
	case res.Outcome == LoadFailed && onError != nil:
		onError(res.Err)
	case res.Outcome == LoadSucceeded && onCatalog != nil:
		onCatalog(cat)
	}
}
