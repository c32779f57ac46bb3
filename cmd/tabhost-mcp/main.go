package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/use-agent/tabhost/models"
)

// client talks to a running tabhost server.
type client struct {
	http   *http.Client
	apiURL string
	apiKey string
}

func main() {
	apiURL := os.Getenv("TABHOST_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("TABHOST_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "TABHOST_API_KEY is required")
		os.Exit(1)
	}

	c := &client{
		http:   &http.Client{Timeout: 150 * time.Second},
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
	}

	s := server.NewMCPServer(
		"tabhost",
		"0.1.0",
		server.WithToolCapabilities(false),
	)

	s.AddTool(mcp.NewTool("open_tab",
		mcp.WithDescription("Open a browser tab backed by a pooled render engine, optionally loading a URL. Returns the tab id used by every other tool."),
		mcp.WithString("url",
			mcp.Description("URL to load once the tab is open"),
		),
		mcp.WithString("tab_id",
			mcp.Description("Identifier to use for the tab (default: generated)"),
		),
		mcp.WithBoolean("background",
			mcp.Description("Open the tab hidden: images off and cache-only loads"),
		),
	), c.handleOpenTab)

	s.AddTool(mcp.NewTool("list_tabs",
		mcp.WithDescription("List open tabs with their URL, title and engine state (running, hibernated or closed)."),
	), c.handleListTabs)

	s.AddTool(mcp.NewTool("navigate_tab",
		mcp.WithDescription("Load a new URL in an open tab."),
		mcp.WithString("tab_id", mcp.Required(), mcp.Description("The tab to navigate")),
		mcp.WithString("url", mcp.Required(), mcp.Description("The URL to load")),
		mcp.WithNumber("timeout",
			mcp.Description("Navigation timeout in seconds (max: 120)"),
		),
	), c.handleNavigateTab)

	s.AddTool(mcp.NewTool("snapshot_tab",
		mcp.WithDescription("Return the cleaned content of the page currently shown in a tab, with a change fingerprint against the previous snapshot."),
		mcp.WithString("tab_id", mcp.Required(), mcp.Description("The tab to read")),
		mcp.WithString("format",
			mcp.Description("Output format: 'markdown' (default), 'text' or 'html'"),
			mcp.Enum("markdown", "text", "html"),
		),
		mcp.WithString("mode",
			mcp.Description("Extraction mode: 'readability' (default, main content) or 'raw' (whole page)"),
			mcp.Enum("readability", "raw"),
		),
		mcp.WithString("selector",
			mcp.Description("CSS selector narrowing the page before cleaning"),
		),
		mcp.WithNumber("max_age",
			mcp.Description("Serve a cached snapshot younger than this many seconds (default: 0, no cache)"),
		),
	), c.handleSnapshotTab)

	s.AddTool(mcp.NewTool("eval_tab",
		mcp.WithDescription("Evaluate JavaScript in a tab and return the JSON result."),
		mcp.WithString("tab_id", mcp.Required(), mcp.Description("The tab to run the script in")),
		mcp.WithString("script", mcp.Required(),
			mcp.Description("A JavaScript function such as '() => document.title'"),
		),
	), c.handleEvalTab)

	s.AddTool(mcp.NewTool("tab_forms",
		mcp.WithDescription("Describe the forms on the page shown in a tab: action, method and fields."),
		mcp.WithString("tab_id", mcp.Required(), mcp.Description("The tab to inspect")),
	), c.handleTabForms)

	s.AddTool(mcp.NewTool("hibernate_tab",
		mcp.WithDescription("Hibernate a tab to free memory. The tab wakes on its next use."),
		mcp.WithString("tab_id", mcp.Required(), mcp.Description("The tab to hibernate")),
	), c.handleTabAction("hibernate"))

	s.AddTool(mcp.NewTool("close_tab",
		mcp.WithDescription("Close a tab and return its engine to the pool."),
		mcp.WithString("tab_id", mcp.Required(), mcp.Description("The tab to close")),
	), c.handleCloseTab)

	s.AddTool(mcp.NewTool("pool_status",
		mcp.WithDescription("Report the engine pool: capacity, running, hibernated and idle engines, and their memory footprints."),
	), c.handlePoolStatus)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// do sends a request to the tabhost API and decodes the JSON reply into
// out. A reply with success=false becomes an error carrying its code.
func (c *client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var failure models.ErrorResponse
		if json.Unmarshal(raw, &failure) == nil && failure.Error != nil {
			return fmt.Errorf("[%s] %s", failure.Error.Code, failure.Error.Message)
		}
		return fmt.Errorf("API returned HTTP %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func tabPath(id string, rest ...string) string {
	p := "/api/v1/tabs/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func describeTab(t *models.TabInfo) string {
	title := t.Title
	if title == "" {
		title = "(untitled)"
	}
	return fmt.Sprintf("%s [%s] %s %s", t.ID, t.State, title, t.URL)
}

func (c *client) handleOpenTab(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payload := models.OpenTabRequest{
		TabID:      request.GetString("tab_id", ""),
		URL:        request.GetString("url", ""),
		Background: request.GetBool("background", false),
	}

	var resp models.TabResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/tabs", payload, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("open tab failed: %v", err)), nil
	}
	if resp.Tab == nil {
		return mcp.NewToolResultError("open tab returned no tab"), nil
	}
	return mcp.NewToolResultText("Opened " + describeTab(resp.Tab)), nil
}

func (c *client) handleListTabs(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var resp models.TabListResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/tabs", nil, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list tabs failed: %v", err)), nil
	}

	if len(resp.Tabs) == 0 {
		return mcp.NewToolResultText("No open tabs."), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d tabs:\n\n", len(resp.Tabs))
	for i := range resp.Tabs {
		sb.WriteString(describeTab(&resp.Tabs[i]) + "\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (c *client) handleNavigateTab(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("tab_id")
	if err != nil {
		return mcp.NewToolResultError("tab_id is required"), nil
	}
	target, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("url is required"), nil
	}

	payload := models.NavigateRequest{
		URL:     target,
		Timeout: request.GetInt("timeout", 0),
	}
	var resp models.TabResponse
	if err := c.do(ctx, http.MethodPost, tabPath(id, "navigate"), payload, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("navigate failed: %v", err)), nil
	}
	if resp.Tab == nil {
		return mcp.NewToolResultText("Navigated " + id), nil
	}
	return mcp.NewToolResultText("Navigated " + describeTab(resp.Tab)), nil
}

func (c *client) handleSnapshotTab(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("tab_id")
	if err != nil {
		return mcp.NewToolResultError("tab_id is required"), nil
	}

	q := url.Values{}
	if v := request.GetString("format", ""); v != "" {
		q.Set("format", v)
	}
	if v := request.GetString("mode", ""); v != "" {
		q.Set("mode", v)
	}
	if v := request.GetString("selector", ""); v != "" {
		q.Set("selector", v)
	}
	if v := request.GetInt("max_age", 0); v > 0 {
		q.Set("max_age", fmt.Sprint(v))
	}
	path := tabPath(id, "snapshot")
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp models.SnapshotResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("snapshot failed: %v", err)), nil
	}

	// Build result with metadata header
	result := fmt.Sprintf("Title: %s\nSource: %s\n", resp.Metadata.Title, resp.URL)
	if resp.Changed != nil {
		result += fmt.Sprintf("Changed since last snapshot: %t\n", *resp.Changed)
	}
	result += "\n" + resp.Content
	result += fmt.Sprintf("\n\n---\nTokens: %d (saved %.0f%% from original %d)",
		resp.Tokens.CleanedEstimate, resp.Tokens.SavingsPercent, resp.Tokens.OriginalEstimate)

	return mcp.NewToolResultText(result), nil
}

func (c *client) handleEvalTab(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("tab_id")
	if err != nil {
		return mcp.NewToolResultError("tab_id is required"), nil
	}
	script, err := request.RequireString("script")
	if err != nil {
		return mcp.NewToolResultError("script is required"), nil
	}

	var resp models.EvalResponse
	if err := c.do(ctx, http.MethodPost, tabPath(id, "eval"), models.EvalRequest{Script: script}, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("eval failed: %v", err)), nil
	}

	pretty, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("format result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(pretty)), nil
}

func (c *client) handleTabForms(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("tab_id")
	if err != nil {
		return mcp.NewToolResultError("tab_id is required"), nil
	}

	var resp models.FormsResponse
	if err := c.do(ctx, http.MethodGet, tabPath(id, "forms"), nil, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("forms failed: %v", err)), nil
	}
	if len(resp.Forms) == 0 {
		return mcp.NewToolResultText("No forms on " + resp.URL), nil
	}

	var sb strings.Builder
	for i, f := range resp.Forms {
		fmt.Fprintf(&sb, "--- Form %d: %s %s ---\n", i+1, f.Method, f.Action)
		for _, field := range f.Fields {
			label := field.Label
			if label == "" {
				label = field.Name
			}
			req := ""
			if field.Required {
				req = " (required)"
			}
			fmt.Fprintf(&sb, "  %s [%s] %s%s\n", field.Name, field.Type, label, req)
			if len(field.Options) > 0 {
				fmt.Fprintf(&sb, "    options: %s\n", strings.Join(field.Options, ", "))
			}
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (c *client) handleTabAction(action string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("tab_id")
		if err != nil {
			return mcp.NewToolResultError("tab_id is required"), nil
		}

		var resp models.TabResponse
		if err := c.do(ctx, http.MethodPost, tabPath(id, action), nil, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", action, err)), nil
		}
		if resp.Tab == nil {
			return mcp.NewToolResultText("Done: " + id), nil
		}
		return mcp.NewToolResultText(describeTab(resp.Tab)), nil
	}
}

func (c *client) handleCloseTab(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("tab_id")
	if err != nil {
		return mcp.NewToolResultError("tab_id is required"), nil
	}
	if err := c.do(ctx, http.MethodDelete, tabPath(id), nil, nil); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("close failed: %v", err)), nil
	}
	return mcp.NewToolResultText("Closed " + id), nil
}

func (c *client) handlePoolStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var resp models.PoolResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/pool", nil, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("pool status failed: %v", err)), nil
	}

	st := resp.Stats
	var sb strings.Builder
	fmt.Fprintf(&sb, "Capacity %d: %d running, %d hibernated, %d idle\n",
		st.Capacity, st.Active, st.Hibernated, st.Idle)
	fmt.Fprintf(&sb, "Created %d, reused %d, destroyed %d, trims %d\n\n",
		st.Created, st.Reused, st.Destroyed, st.Trims)
	for _, e := range resp.Engines {
		fmt.Fprintf(&sb, "%s [%s] tab=%s %.1f MB, %d uses\n",
			e.ID, e.State, e.TabID, float64(e.FootprintBytes)/(1<<20), e.Uses)
	}
	return mcp.NewToolResultText(sb.String()), nil
}
