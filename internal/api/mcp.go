package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates an MCP server exposing search and post lookup as
// tools and collection stats as a resource.
func NewMCPServer(deps AppDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"glimpse",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("glimpse — semantic search over an archive of saved social media posts."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_posts",
			mcp.WithDescription("Semantically search saved posts by text and image content."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("top_k", mcp.Description("Maximum number of results (default 5)")),
			mcp.WithBoolean("include_images", mcp.Description("Match against image descriptions too (default true)")),
		),
		mcpSearchPosts(deps),
	)

	s.AddTool(
		mcp.NewTool("get_post",
			mcp.WithDescription("Fetch one saved post with its tags and image descriptions."),
			mcp.WithString("post_id", mcp.Description("Post identifier"), mcp.Required()),
		),
		mcpGetPost(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"glimpse://stats",
			"Collection Stats",
			mcp.WithResourceDescription("Counts over the saved post collection as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpSearchPosts(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		topK := req.GetInt("top_k", 0)
		if topK < 0 {
			topK = 0
		}
		if topK > 50 {
			topK = 50
		}

		includeImages := req.GetBool("include_images", true)

		results, err := deps.Searcher.Search(ctx, query, topK, includeImages, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		type hit struct {
			PostID     string  `json:"post_id"`
			Author     string  `json:"author"`
			Text       string  `json:"text"`
			URL        string  `json:"url"`
			Score      float64 `json:"score"`
			MatchedVia string  `json:"matched_via"`
		}
		hits := make([]hit, len(results))
		for i, r := range results {
			hits[i] = hit{
				PostID:     r.Post.PostID,
				Author:     r.Post.Author,
				Text:       r.Post.Text,
				URL:        r.Post.URL,
				Score:      r.Score,
				MatchedVia: r.MatchedVia,
			}
		}

		b, err := json.Marshal(hits)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetPost(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		postID, err := req.RequireString("post_id")
		if err != nil {
			return mcpError("post_id is required"), nil
		}

		post, err := deps.Store.GetPost(postID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get post: %v", err)), nil
		}
		tags, err := deps.Store.PostTags(postID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get tags: %v", err)), nil
		}
		descs, err := deps.Store.ImageDescriptions(postID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get image descriptions: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"post":               post,
			"tags":               tags,
			"image_descriptions": descs,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal post: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceStats(deps AppDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.Store.CollectionStats()
		if err != nil {
			return nil, fmt.Errorf("failed to compute stats: %w", err)
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
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
