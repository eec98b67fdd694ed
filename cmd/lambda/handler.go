package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pay-theory/dynaquery"
	"github.com/pay-theory/dynaquery/pkg/config"
	"github.com/pay-theory/dynaquery/pkg/core"
	"github.com/pay-theory/dynaquery/pkg/log"
)

// Request is the invocation payload
type Request struct {
	Table   string                 `json:"table"`
	Filter  json.RawMessage        `json:"filter,omitempty"`
	Fields  []string               `json:"fields,omitempty"`
	Options dynaquery.QueryOptions `json:"options"`
	All     bool                   `json:"all,omitempty"`
}

// Response is returned to the caller; LastKey is set when more pages remain
type Response struct {
	Items   []map[string]any `json:"items"`
	Count   int              `json:"count"`
	LastKey string           `json:"lastKey,omitempty"`
}

type topologySource interface {
	DescribeTopology(ctx context.Context, tableName string) (core.Topology, error)
}

// Handler serves filter queries. Clients are built once per table and
// cached for the life of the container.
type Handler struct {
	store      core.StoreAPI
	topologies topologySource
	configPath string
	logger     log.Logger

	mu      sync.Mutex
	clients map[string]*dynaquery.Client
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithConfigPath reads table layouts from a YAML file instead of DescribeTable
func WithConfigPath(path string) HandlerOption {
	return func(h *Handler) {
		h.configPath = path
	}
}

// WithHandlerLogger sets the logger
func WithHandlerLogger(logger log.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates a handler
func NewHandler(store core.StoreAPI, topologies topologySource, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:      store,
		topologies: topologies,
		logger:     log.NewNop(),
		clients:    make(map[string]*dynaquery.Client),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle runs one query and returns a page, or every item when All is set
func (h *Handler) Handle(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := dynaquery.WithLambdaTimeout(ctx)
	defer cancel()

	if req.Table == "" {
		return nil, fmt.Errorf("table is required")
	}
	doc, err := decodeFilter(req.Filter)
	if err != nil {
		return nil, err
	}

	client, err := h.client(ctx, req.Table)
	if err != nil {
		return nil, err
	}

	h.logger.Debug("handling query",
		"table", req.Table,
		"all", req.All,
		"remaining_ms", dynaquery.GetRemainingTimeMillis(ctx),
	)

	if req.All {
		items, err := client.QueryAll(ctx, doc, req.Fields, req.Options)
		if err != nil {
			return nil, err
		}
		return &Response{Items: items, Count: len(items)}, nil
	}

	page, err := client.Query(ctx, doc, req.Fields, req.Options)
	if err != nil {
		return nil, err
	}
	return &Response{Items: page.Items, Count: page.Count, LastKey: page.NextCursor}, nil
}

// client returns the cached client for table. The topology is resolved
// without holding the lock; when two invocations race, the first stored
// client wins.
func (h *Handler) client(ctx context.Context, table string) (*dynaquery.Client, error) {
	h.mu.Lock()
	c, ok := h.clients[table]
	h.mu.Unlock()
	if ok {
		return c, nil
	}

	topology, err := h.topology(ctx, table)
	if err != nil {
		return nil, err
	}
	c, err = dynaquery.New(h.store, topology,
		dynaquery.WithLogger(h.logger),
		dynaquery.WithMaxConcurrency(dynaquery.LambdaMaxConcurrency()),
	)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if cached, ok := h.clients[table]; ok {
		return cached, nil
	}
	h.clients[table] = c
	return c, nil
}

func (h *Handler) topology(ctx context.Context, table string) (core.Topology, error) {
	if h.configPath == "" {
		return h.topologies.DescribeTopology(ctx, table)
	}
	f, err := config.Load(h.configPath)
	if err != nil {
		return core.Topology{}, err
	}
	t, err := f.Table(table)
	if err != nil {
		return core.Topology{}, err
	}
	return t.Topology(), nil
}

func decodeFilter(raw json.RawMessage) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return doc, nil
}
