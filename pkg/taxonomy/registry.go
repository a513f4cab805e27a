package taxonomy

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed atoms.yaml
var baseCatalogue []byte

// ErrInvalidDiscovery is returned when a discovery has an invalid classification.
var ErrInvalidDiscovery = errors.New("invalid discovery")

type catalogueFile struct {
	Version string           `yaml:"version"`
	NextID  int              `yaml:"next_id"`
	Atoms   []AtomDefinition `yaml:"atoms"`
}

// Catalog is an immutable view of the registry at one point in time.
// It is safe for concurrent use by any number of readers.
type Catalog struct {
	version string
	atoms   map[int]AtomDefinition
	byType  map[string]int
	nextID  int
}

// Lookup returns the atom mapped to an AST category.
func (c *Catalog) Lookup(astType string) (AtomDefinition, bool) {
	id, ok := c.byType[astType]
	if !ok {
		return AtomDefinition{}, false
	}
	return c.atoms[id].clone(), true
}

// Known reports whether an AST category has an atom, without copying it.
func (c *Catalog) Known(astType string) bool {
	_, ok := c.byType[astType]
	return ok
}

// Get returns the atom with the given id.
func (c *Catalog) Get(id int) (AtomDefinition, bool) {
	a, ok := c.atoms[id]
	if !ok {
		return AtomDefinition{}, false
	}
	return a.clone(), true
}

// Categorize maps an AST category onto the closed category set.
func (c *Catalog) Categorize(astType string) Category {
	id, ok := c.byType[astType]
	if !ok {
		return CategoryUnknown
	}
	if cat, ok := categoryByFundamental[c.atoms[id].Fundamental]; ok {
		return cat
	}
	return CategoryUnknown
}

// All returns every atom ordered by id.
func (c *Catalog) All() []AtomDefinition {
	out := make([]AtomDefinition, 0, len(c.atoms))
	for _, a := range c.atoms {
		out = append(out, a.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of atoms.
func (c *Catalog) Len() int { return len(c.atoms) }

// NextID returns the id the next discovery will receive.
func (c *Catalog) NextID() int { return c.nextID }

// Stats summarizes the catalog.
func (c *Catalog) Stats() Stats {
	s := Stats{
		TotalAtoms:     len(c.atoms),
		ASTTypesMapped: len(c.byType),
		ByContinent:    make(map[string]int),
		ByFundamental:  make(map[string]int),
		ByLevel:        make(map[string]int),
		BySource:       map[string]int{"original": 0, "discovered": 0},
		NextID:         c.nextID,
	}
	for _, a := range c.atoms {
		s.ByContinent[string(a.Continent)]++
		s.ByFundamental[string(a.Fundamental)]++
		s.ByLevel[string(a.Level)]++
		if a.Source == SourceOriginal {
			s.BySource["original"]++
		} else {
			s.BySource["discovered"]++
		}
	}
	return s
}

func (c *Catalog) copy() *Catalog {
	n := &Catalog{
		version: c.version,
		atoms:   make(map[int]AtomDefinition, len(c.atoms)+1),
		byType:  make(map[string]int, len(c.byType)+4),
		nextID:  c.nextID,
	}
	for id, a := range c.atoms {
		n.atoms[id] = a
	}
	for t, id := range c.byType {
		n.byType[t] = id
	}
	return n
}

// Registry owns the atom catalogue. Reads go through immutable snapshots;
// discoveries are appended through the registry, which is the single writer.
type Registry struct {
	mu      sync.Mutex
	current *Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used to report mapping conflicts.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithClock overrides the time source for discovery timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates a registry populated with the base catalogue.
func New(opts ...Option) (*Registry, error) {
	base, err := loadCatalogue(baseCatalogue)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		current: base,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// MustNew is New for callers that treat a broken embedded catalogue as fatal.
func MustNew(opts ...Option) *Registry {
	r, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return r
}

func loadCatalogue(data []byte) (*Catalog, error) {
	var file catalogueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode atom catalogue: %w", err)
	}

	c := &Catalog{
		version: file.Version,
		atoms:   make(map[int]AtomDefinition, len(file.Atoms)),
		byType:  make(map[string]int),
		nextID:  file.NextID,
	}
	for _, a := range file.Atoms {
		if _, dup := c.atoms[a.ID]; dup {
			return nil, fmt.Errorf("atom catalogue: duplicate id %d", a.ID)
		}
		if !a.Continent.Valid() || !a.Fundamental.Valid() || !a.Level.Valid() {
			return nil, fmt.Errorf("atom catalogue: atom %d (%s) has invalid classification", a.ID, a.Name)
		}
		if a.ID >= c.nextID {
			return nil, fmt.Errorf("atom catalogue: atom %d is not below next_id %d", a.ID, c.nextID)
		}
		if a.ASTTypes == nil {
			a.ASTTypes = []string{}
		}
		a.Source = SourceOriginal
		c.atoms[a.ID] = a
		for _, t := range a.ASTTypes {
			if prev, ok := c.byType[t]; ok {
				return nil, fmt.Errorf("atom catalogue: %q mapped by atoms %d and %d", t, prev, a.ID)
			}
			c.byType[t] = a.ID
		}
	}
	return c, nil
}

// Snapshot returns the current immutable catalog.
func (r *Registry) Snapshot() *Catalog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Lookup returns the atom mapped to an AST category.
func (r *Registry) Lookup(astType string) (AtomDefinition, bool) {
	return r.Snapshot().Lookup(astType)
}

// Stats summarizes the current catalog.
func (r *Registry) Stats() Stats {
	return r.Snapshot().Stats()
}

// RegisterDiscovery appends a new atom and returns its id. Ids are
// allocated monotonically and existing ids are never reused or removed.
// AST categories already mapped to another atom move to the new atom;
// each move is returned as a Conflict.
func (r *Registry) RegisterDiscovery(d Discovery) (int, []Conflict, error) {
	if d.Name == "" {
		return 0, nil, fmt.Errorf("%w: name is required", ErrInvalidDiscovery)
	}
	if !d.Continent.Valid() {
		return 0, nil, fmt.Errorf("%w: continent %q", ErrInvalidDiscovery, d.Continent)
	}
	if !d.Fundamental.Valid() {
		return 0, nil, fmt.Errorf("%w: fundamental %q", ErrInvalidDiscovery, d.Fundamental)
	}
	if !d.Level.Valid() {
		return 0, nil, fmt.Errorf("%w: level %q", ErrInvalidDiscovery, d.Level)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.current.copy()
	id := next.nextID
	next.nextID++

	source := d.Source
	if source == "" {
		source = "unknown"
	}
	types := dedupe(d.ASTTypes)
	next.atoms[id] = AtomDefinition{
		ID:              id,
		Name:            d.Name,
		ASTTypes:        types,
		Continent:       d.Continent,
		Fundamental:     d.Fundamental,
		Level:           d.Level,
		Description:     d.Description,
		DetectionRule:   d.DetectionRule,
		Source:          source,
		DiscoveredAt:    r.now().UTC().Format(time.RFC3339),
		OccurrenceCount: d.OccurrenceCount,
	}

	var conflicts []Conflict
	for _, t := range types {
		if prev, ok := next.byType[t]; ok {
			conflicts = append(conflicts, Conflict{ASTType: t, PreviousID: prev, NewID: id})
			r.logger.Warn("ast category remapped to discovered atom",
				slog.String("ast_type", t),
				slog.Int("previous_id", prev),
				slog.Int("new_id", id),
			)
		}
		next.byType[t] = id
	}

	r.current = next
	return id, conflicts, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Canon is the exported form of the registry.
type Canon struct {
	Version   string                    `json:"version"`
	Timestamp string                    `json:"timestamp"`
	Stats     Stats                     `json:"stats"`
	Atoms     map[string]AtomDefinition `json:"atoms"`
}

// Canon builds the export document for the current catalog.
func (r *Registry) Canon() Canon {
	c := r.Snapshot()
	atoms := make(map[string]AtomDefinition, c.Len())
	for _, a := range c.All() {
		atoms[strconv.Itoa(a.ID)] = a
	}
	return Canon{
		Version:   c.version,
		Timestamp: r.now().UTC().Format(time.RFC3339),
		Stats:     c.Stats(),
		Atoms:     atoms,
	}
}

// ExportCanon writes the registry as indented JSON.
func (r *Registry) ExportCanon(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.Canon()); err != nil {
		return fmt.Errorf("encode taxonomy: %w", err)
	}
	return nil
}
