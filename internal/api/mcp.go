package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bakirov/instashop/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store *storage.Store
}

// NewMCPServer creates an MCP server exposing the shop's catalog, orders,
// and session administration to a connected assistant.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"instashop",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("instashop — Instagram storefront bot: catalog, orders, and conversation sessions."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_products",
			mcp.WithDescription("List catalog products with prices in som."),
			mcp.WithBoolean("include_unavailable", mcp.Description("Include products hidden from customers (default false)")),
		),
		mcpListProducts(deps),
	)

	s.AddTool(
		mcp.NewTool("recent_orders",
			mcp.WithDescription("Return the most recent finalized orders with their item snapshots."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of orders (default 10)")),
		),
		mcpRecentOrders(deps),
	)

	s.AddTool(
		mcp.NewTool("store_stats",
			mcp.WithDescription("Return aggregate store activity: sessions, messages, purchases, revenue."),
		),
		mcpStoreStats(deps),
	)

	s.AddTool(
		mcp.NewTool("reset_session",
			mcp.WithDescription("Reset a customer's conversation session to the idle phase, clearing the cart."),
			mcp.WithString("sender_id", mcp.Description("The customer's Instagram sender id"), mcp.Required()),
		),
		mcpResetSession(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"shop://products",
			"Available Products",
			mcp.WithResourceDescription("Products currently offered to customers, as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProducts(deps),
	)

	return s
}

func mcpListProducts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var (
			products []storage.Product
			err      error
		)
		if req.GetBool("include_unavailable", false) {
			products, err = deps.Store.ListProducts()
		} else {
			products, err = deps.Store.ListAvailableProducts()
		}
		if err != nil {
			return mcpError(fmt.Sprintf("listing products failed: %v", err)), nil
		}

		type productResult struct {
			ID        int64  `json:"id"`
			Name      string `json:"name"`
			Price     int64  `json:"price"`
			Category  string `json:"category,omitempty"`
			Available bool   `json:"available"`
		}
		results := make([]productResult, len(products))
		for i, p := range products {
			results[i] = productResult{ID: p.ID, Name: p.Name, Price: p.Price, Category: p.Category, Available: p.Available}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal products: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecentOrders(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		purchases, err := deps.Store.RecentPurchases(limit)
		if err != nil {
			return mcpError(fmt.Sprintf("listing orders failed: %v", err)), nil
		}

		type orderResult struct {
			ID          string `json:"id"`
			SenderID    string `json:"sender_id"`
			TotalAmount int64  `json:"total_amount"`
			ItemCount   int    `json:"item_count"`
			CreatedAt   string `json:"created_at"`
		}
		results := make([]orderResult, len(purchases))
		for i, p := range purchases {
			results[i] = orderResult{
				ID:          p.ID,
				SenderID:    p.SenderID,
				TotalAmount: p.TotalAmount,
				ItemCount:   len(p.Items),
				CreatedAt:   p.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal orders: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpStoreStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Store.GatherStats()
		if err != nil {
			return mcpError(fmt.Sprintf("gathering stats failed: %v", err)), nil
		}
		b, err := json.Marshal(stats)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResetSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		senderID, err := req.RequireString("sender_id")
		if err != nil {
			return mcpError("sender_id is required"), nil
		}
		if err := deps.Store.ResetSession(senderID); err != nil {
			return mcpError(fmt.Sprintf("reset failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Session %s reset to idle", senderID)), nil
	}
}

func mcpResourceProducts(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		products, err := deps.Store.ListAvailableProducts()
		if err != nil {
			return nil, fmt.Errorf("failed to list products: %w", err)
		}

		b, err := json.Marshal(products)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal products: %w", err)
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
