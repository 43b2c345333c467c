// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes noterank recommendation tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/noterank/internal/apperr"
	"github.com/starford/noterank/internal/models"
	"github.com/starford/noterank/internal/vectorindex"
)

const (
	defaultK = 10
	maxK     = 100

	contractURI = "noterank://record-format"
)

// Recommender is the read-only service surface exposed as tools.
type Recommender interface {
	Status() vectorindex.Status
	SimilarToNote(ctx context.Context, noteID string, k int) ([]models.ScoredItem, error)
	ForUser(ctx context.Context, userID string, k int) ([]models.ScoredItem, error)
}

// Server wraps the MCP server with noterank tools.
type Server struct {
	mcp *server.MCPServer
	svc Recommender
}

// New creates a new MCP server with all noterank tools registered.
func New(svc Recommender) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"noterank",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("similar_notes",
		mcp.WithDescription("Rank public, published notes by similarity to a given note. "+
			"The source note itself is never returned."),
		mcp.WithString("note_id", mcp.Required(), mcp.Description("Id of the source note")),
		mcp.WithNumber("k", mcp.Description("Number of results (1-100, default 10)")),
	), s.similarNotes)

	s.mcp.AddTool(mcp.NewTool("recommend_for_user",
		mcp.WithDescription("Personalised note recommendations for a user based on liked notes, "+
			"skills and series preferences. Recently read notes are skipped."),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Id of the user")),
		mcp.WithNumber("k", mcp.Description("Number of results (1-100, default 10)")),
	), s.recommendForUser)

	s.mcp.AddTool(mcp.NewTool("index_status",
		mcp.WithDescription("Report whether the similarity index is built, its generation and size."),
	), s.indexStatus)

	s.mcp.AddTool(mcp.NewTool("get_record_contract",
		mcp.WithDescription("Returns the accepted note and user record format. "+
			"Read this before preparing records for ingestion."),
	), s.getRecordContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Record Format Contract",
			mcp.WithResourceDescription("Accepted record files and raw note/user record fields."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) similarNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("note_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	k, err := requestK(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	items, err := s.svc.SimilarToNote(ctx, id, k)
	if err != nil {
		return toolError(err, "note not found: "+id), nil
	}
	return itemsResult(items)
}

func (s *Server) recommendForUser(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	k, err := requestK(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	items, err := s.svc.ForUser(ctx, id, k)
	if err != nil {
		return toolError(err, "user not found: "+id), nil
	}
	return itemsResult(items)
}

func (s *Server) indexStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, _ := json.MarshalIndent(s.svc.Status(), "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getRecordContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RecordFormatContract), nil
}

func (s *Server) readContractResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     RecordFormatContract,
		},
	}, nil
}

func requestK(req mcp.CallToolRequest) (int, error) {
	k := req.GetInt("k", defaultK)
	if k < 1 || k > maxK {
		return 0, fmt.Errorf("k must be between 1 and %d", maxK)
	}
	return k, nil
}

func toolError(err error, notFound string) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError(notFound)
	case errors.Is(err, apperr.ErrIndexNotReady):
		return mcp.NewToolResultError("index not ready: ingest notes first")
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

func itemsResult(items []models.ScoredItem) (*mcp.CallToolResult, error) {
	if items == nil {
		items = []models.ScoredItem{}
	}
	out, err := json.MarshalIndent(map[string]any{"items": items}, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
