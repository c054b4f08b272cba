package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nexusai/nexusd/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store  storage.Recorder
	UserID string
}

// NewMCPServer creates an MCP server with all nexusd tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"nexusd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("NexusAI record vault: search, read and store the AI generation history kept on this machine."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("search_generations",
			mcp.WithDescription("List stored generation records, newest first. Returns summaries; use get_generation for the full record."),
			mcp.WithString("type", mcp.Description("Filter by record type (image, video, audio, code, conversation)")),
			mcp.WithBoolean("favorite", mcp.Description("Only return favorited records")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSearchGenerations(deps),
	)

	s.AddTool(
		mcp.NewTool("get_generation",
			mcp.WithDescription("Fetch a single generation record by id, including the full result payload."),
			mcp.WithString("id", mcp.Description("Record id"), mcp.Required()),
		),
		mcpGetGeneration(deps),
	)

	s.AddTool(
		mcp.NewTool("save_generation",
			mcp.WithDescription("Store a new generation record in the local vault."),
			mcp.WithString("type", mcp.Description("Record type (image, video, audio, code, conversation)"), mcp.Required()),
			mcp.WithString("prompt", mcp.Description("The prompt that produced the generation"), mcp.Required()),
			mcp.WithString("result", mcp.Description("The generated result as text"), mcp.Required()),
			mcp.WithString("model", mcp.Description("Model that produced the result")),
			mcp.WithArray("tags", mcp.Description("Optional tags for categorization")),
		),
		mcpSaveGeneration(deps),
	)

	s.AddTool(
		mcp.NewTool("vault_stats",
			mcp.WithDescription("Summarize the local vault: record counts by type, sync state and storage size."),
		),
		mcpVaultStats(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"nexus://recent",
			"Recent Generations",
			mcp.WithResourceDescription("Last 10 stored generations (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpSearchGenerations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		opts := storage.QueryOptions{
			FavoritesOnly: req.GetBool("favorite", false),
			Limit:         limit,
		}
		if t := req.GetString("type", ""); t != "" {
			rt := storage.RecordType(t)
			if !rt.Valid() {
				return mcpError(fmt.Sprintf("unknown record type %q (want image, video, audio, code or conversation)", t)), nil
			}
			opts.Type = rt
		}

		records, err := deps.Store.QueryGenerations(deps.UserID, opts)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(records) == 0 {
			return mcpText("[]"), nil
		}

		type recordSummary struct {
			ID        string `json:"id"`
			Type      string `json:"type"`
			Model     string `json:"model,omitempty"`
			Prompt    string `json:"prompt"`
			Favorite  bool   `json:"favorite"`
			Synced    bool   `json:"synced"`
			CreatedAt string `json:"createdAt"`
		}

		summaries := make([]recordSummary, len(records))
		for i, rec := range records {
			summaries[i] = recordSummary{
				ID:        rec.ID,
				Type:      string(rec.Type),
				Model:     rec.Model,
				Prompt:    truncate(rec.Prompt, 200),
				Favorite:  rec.Favorite,
				Synced:    rec.Synced,
				CreatedAt: rec.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpGetGeneration(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		rec, err := deps.Store.GetGeneration(id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return mcpError(fmt.Sprintf("no record with id %s", id)), nil
			}
			return mcpError(fmt.Sprintf("failed to load record: %v", err)), nil
		}

		b, err := json.Marshal(rec)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal record: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpSaveGeneration(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		typeStr, err := req.RequireString("type")
		if err != nil {
			return mcpError("type is required"), nil
		}
		rt := storage.RecordType(typeStr)
		if !rt.Valid() {
			return mcpError(fmt.Sprintf("unknown record type %q (want image, video, audio, code or conversation)", typeStr)), nil
		}

		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcpError("prompt is required"), nil
		}
		result, err := req.RequireString("result")
		if err != nil {
			return mcpError("result is required"), nil
		}

		rec := storage.GenerationRecord{
			UserID: deps.UserID,
			Type:   rt,
			Prompt: prompt,
			Result: result,
			Model:  req.GetString("model", ""),
			Tags:   req.GetStringSlice("tags", nil),
		}

		id, err := deps.Store.SaveGeneration(rec)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Stored generation %s", id)), nil
	}
}

func mcpVaultStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Store.Stats(deps.UserID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to compute stats: %v", err)), nil
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := deps.Store.QueryGenerations(deps.UserID, storage.QueryOptions{Limit: 10})
		if err != nil {
			return nil, fmt.Errorf("failed to list recent generations: %w", err)
		}

		type recentEntry struct {
			ID        string `json:"id"`
			Type      string `json:"type"`
			Prompt    string `json:"prompt"`
			CreatedAt string `json:"createdAt"`
		}

		entries := make([]recentEntry, len(records))
		for i, rec := range records {
			entries[i] = recentEntry{
				ID:        rec.ID,
				Type:      string(rec.Type),
				Prompt:    truncate(rec.Prompt, 200),
				CreatedAt: rec.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal recent generations: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
