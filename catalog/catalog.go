package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/eventflow/types"
	"go.uber.org/zap"
)

// Sentinel errors for the catalog.
var (
	ErrSchemaExists = errors.New("schema already registered")
)

// Catalog 事件目录（事件类型 → schema）。
type Catalog struct {
	mu      sync.RWMutex
	schemas map[string]*types.EventSchema
	logger  *zap.Logger
}

// New creates an empty catalog.
func New(logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		schemas: make(map[string]*types.EventSchema),
		logger:  logger.With(zap.String("component", "event_catalog")),
	}
}

// NewDefault creates a catalog pre-populated with the builtin schemas.
func NewDefault(logger *zap.Logger) *Catalog {
	c := New(logger)
	for _, s := range Builtin() {
		c.MustRegister(s)
	}
	return c
}

// Register adds a schema. Registered entries are immutable.
func (c *Catalog) Register(schema *types.EventSchema) error {
	if schema == nil {
		return fmt.Errorf("schema must not be nil")
	}
	if err := schema.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.schemas[schema.Event]; exists {
		return fmt.Errorf("%w: %s", ErrSchemaExists, schema.Event)
	}
	c.schemas[schema.Event] = schema.Clone()

	c.logger.Debug("schema registered",
		zap.String("event", schema.Event),
		zap.String("level", string(schema.Level)),
		zap.Bool("notification_worthy", schema.NotificationWorthy()))
	return nil
}

// MustRegister registers a schema and panics on error.
func (c *Catalog) MustRegister(schema *types.EventSchema) {
	if err := c.Register(schema); err != nil {
		panic(err)
	}
}

// Get resolves an event type. The returned schema is a copy.
func (c *Catalog) Get(event string) (*types.EventSchema, bool) {
	c.mu.RLock()
	s, ok := c.schemas[event]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Has reports whether an event type is registered.
func (c *Catalog) Has(event string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.schemas[event]
	return ok
}

// List returns all schemas sorted by event type.
func (c *Catalog) List() []*types.EventSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*types.EventSchema, 0, len(c.schemas))
	for _, s := range c.schemas {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Event < out[j].Event })
	return out
}

// Len returns the number of registered schemas.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.schemas)
}
