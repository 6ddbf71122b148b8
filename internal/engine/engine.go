package engine

// Engine is the translation core. It holds only immutable state (the rule
// table and catalog), so a single instance is safe for unsynchronized
// concurrent use; every Translate call is independent and call-local.
type Engine struct {
	extractor *Extractor
	table     *Table
	composer  *Composer
}

// Option configures an Engine at construction time
type Option func(*options)

type options struct {
	catalog    Catalog
	extraRules []Rule
	rules      []Rule
}

// WithCatalog overrides the metric catalog the composer binds against
func WithCatalog(catalog Catalog) Option {
	return func(o *options) { o.catalog = catalog }
}

// WithExtraRules appends rules (typically from a YAML rule pack) after the
// builtin table. Equal-priority ties still resolve by definition order, so
// builtins win unless the extra rule carries a higher priority.
func WithExtraRules(rules []Rule) Option {
	return func(o *options) { o.extraRules = append(o.extraRules, rules...) }
}

// WithRules replaces the builtin table entirely. Intended for tests and for
// deployments that author their whole table as a rule pack.
func WithRules(rules []Rule) Option {
	return func(o *options) { o.rules = rules }
}

// New constructs an Engine. Rule templates are validated here so malformed
// rules fail at startup rather than at translation time.
func New(opts ...Option) (*Engine, error) {
	o := &options{catalog: DefaultCatalog()}
	for _, opt := range opts {
		opt(o)
	}

	base := o.rules
	if base == nil {
		base = DefaultRules()
	}
	// Copy before appending so a caller-owned slice with spare capacity is
	// never written through.
	rules := make([]Rule, 0, len(base)+len(o.extraRules))
	rules = append(rules, base...)
	rules = append(rules, o.extraRules...)

	table, err := NewTable(rules)
	if err != nil {
		return nil, err
	}

	return &Engine{
		extractor: NewExtractor(),
		table:     table,
		composer:  NewComposer(o.catalog),
	}, nil
}

// Translate converts a natural-language phrase into a Translation. It is the
// single entry point of the core: extraction never fails, matching never
// fails, and only composition returns a typed error (NO_MATCH or
// INVALID_OUTPUT). No exception crosses this boundary.
func (e *Engine) Translate(phrase string) (*Translation, error) {
	entities, warnings := e.extractor.Extract(phrase)
	matches := e.table.Match(entities)
	return e.composer.Compose(phrase, entities, matches, warnings)
}

// Explain runs extraction and matching without composing, returning the
// entity set and the full ranked match list for diagnostics.
func (e *Engine) Explain(phrase string) (*EntitySet, []MatchResult) {
	entities, _ := e.extractor.Extract(phrase)
	return entities, e.table.Match(entities)
}

// Rules exposes the engine's rule table in definition order
func (e *Engine) Rules() []Rule {
	return e.table.Rules()
}
