package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codescope/codescope/internal/app"
	"github.com/codescope/codescope/internal/index"
	"github.com/codescope/codescope/internal/provider"
	"github.com/codescope/codescope/internal/search"
	"github.com/codescope/codescope/internal/store"
)

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query      string `json:"query" jsonschema:"natural language or keyword query"`
	Collection string `json:"collection" jsonschema:"collection to search"`
	K          int    `json:"k,omitempty" jsonschema:"maximum number of results, default 10"`
	Mode       string `json:"mode,omitempty" jsonschema:"semantic, keyword, or hybrid (default)"`
	Language   string `json:"language,omitempty" jsonschema:"filter by programming language"`
	PathGlob   string `json:"path_glob,omitempty" jsonschema:"filter by path glob, e.g. internal/**"`
	SymbolKind string `json:"symbol_kind,omitempty" jsonschema:"filter by symbol kind, e.g. function"`
}

// SearchOutput is the search tool result.
type SearchOutput struct {
	Results  []*search.Result `json:"results"`
	Warnings []string         `json:"warnings,omitempty"`
}

// StartIndexInput starts an indexing operation.
type StartIndexInput struct {
	RootPath   string   `json:"root_path" jsonschema:"directory to index"`
	Collection string   `json:"collection" jsonschema:"target collection name"`
	Extensions []string `json:"extensions,omitempty" jsonschema:"restrict to these file extensions"`
	Ignore     []string `json:"ignore,omitempty" jsonschema:"path globs to skip"`
	Force      bool     `json:"force,omitempty" jsonschema:"re-index unchanged files and rebuild incompatible collections"`
}

// StartIndexOutput carries the operation id.
type StartIndexOutput struct {
	OpID string `json:"op_id"`
}

// OpInput references an operation by id.
type OpInput struct {
	OpID string `json:"op_id" jsonschema:"operation id returned by start_index"`
}

// CollectionInput references a collection by user name.
type CollectionInput struct {
	Collection string `json:"collection" jsonschema:"collection name"`
}

// EmptyOutput is returned by tools with no payload.
type EmptyOutput struct{}

// ListCollectionsOutput lists collection descriptors.
type ListCollectionsOutput struct {
	Collections []*store.CollectionDescriptor `json:"collections"`
}

// SwapProviderInput requests a provider swap.
type SwapProviderInput struct {
	Capability string `json:"capability" jsonschema:"embedding, vector_store, cache, or event_bus"`
	Name       string `json:"name" jsonschema:"registered provider name"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Hybrid semantic + keyword search over an indexed collection, fused with Reciprocal Rank Fusion.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "start_index",
		Description: "Start an asynchronous indexing operation over a directory tree. Returns an operation id immediately.",
	}, s.handleStartIndex)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Report the state and counters of an indexing operation.",
	}, s.handleIndexStatus)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "cancel_index",
		Description: "Cooperatively cancel a running indexing operation.",
	}, s.handleCancelIndex)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "clear_collection",
		Description: "Remove a collection's vector index, keyword index, and metadata.",
	}, s.handleClearCollection)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_collections",
		Description: "List all collections with their embedding model, dimension, and metric.",
	}, s.handleListCollections)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "collection_stats",
		Description: "Report chunk count, bytes, and last index time for a collection.",
	}, s.handleCollectionStats)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "swap_provider",
		Description: "Administrative: swap the active provider for a capability at runtime.",
	}, s.handleSwapProvider)
}

func (s *Server) handleSearch(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	k := input.K
	if k == 0 {
		k = 10
	}
	var filters *store.SearchFilter
	if input.Language != "" || input.PathGlob != "" || input.SymbolKind != "" {
		filters = &store.SearchFilter{
			Language:   input.Language,
			PathGlob:   input.PathGlob,
			SymbolKind: input.SymbolKind,
		}
	}

	resp, err := s.app.Search.Search(ctx, search.Query{
		Query:      input.Query,
		Collection: input.Collection,
		K:          k,
		Filters:    filters,
		Mode:       search.Mode(input.Mode),
	})
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return nil, SearchOutput{Results: resp.Results, Warnings: resp.Warnings}, nil
}

func (s *Server) handleStartIndex(ctx context.Context, req *mcp.CallToolRequest, input StartIndexInput) (*mcp.CallToolResult, StartIndexOutput, error) {
	opID, err := s.app.Index.Start(ctx, index.Request{
		RootPath:    input.RootPath,
		Collection:  input.Collection,
		Extensions:  input.Extensions,
		IgnoreGlobs: input.Ignore,
		Force:       input.Force,
	})
	if err != nil {
		return nil, StartIndexOutput{}, err
	}
	return nil, StartIndexOutput{OpID: opID}, nil
}

func (s *Server) handleIndexStatus(ctx context.Context, req *mcp.CallToolRequest, input OpInput) (*mcp.CallToolResult, index.Snapshot, error) {
	snap, err := s.app.Index.Status(input.OpID)
	if err != nil {
		return nil, index.Snapshot{}, err
	}
	return nil, snap, nil
}

func (s *Server) handleCancelIndex(ctx context.Context, req *mcp.CallToolRequest, input OpInput) (*mcp.CallToolResult, EmptyOutput, error) {
	if err := s.app.Index.Cancel(input.OpID); err != nil {
		return nil, EmptyOutput{}, err
	}
	return nil, EmptyOutput{}, nil
}

func (s *Server) handleClearCollection(ctx context.Context, req *mcp.CallToolRequest, input CollectionInput) (*mcp.CallToolResult, EmptyOutput, error) {
	if err := s.app.Index.Clear(ctx, input.Collection); err != nil {
		return nil, EmptyOutput{}, err
	}
	return nil, EmptyOutput{}, nil
}

func (s *Server) handleListCollections(ctx context.Context, req *mcp.CallToolRequest, input EmptyOutput) (*mcp.CallToolResult, ListCollectionsOutput, error) {
	descs, err := s.app.Index.ListCollections(ctx)
	if err != nil {
		return nil, ListCollectionsOutput{}, err
	}
	return nil, ListCollectionsOutput{Collections: descs}, nil
}

func (s *Server) handleCollectionStats(ctx context.Context, req *mcp.CallToolRequest, input CollectionInput) (*mcp.CallToolResult, store.CollectionStats, error) {
	stats, err := s.app.Index.Stats(ctx, input.Collection)
	if err != nil {
		return nil, store.CollectionStats{}, err
	}
	return nil, *stats, nil
}

func (s *Server) handleSwapProvider(ctx context.Context, req *mcp.CallToolRequest, input SwapProviderInput) (*mcp.CallToolResult, app.SwapResult, error) {
	result, err := s.app.SwapProvider(ctx, provider.Capability(input.Capability), input.Name)
	if err != nil {
		return nil, app.SwapResult{}, err
	}
	return nil, *result, nil
}
