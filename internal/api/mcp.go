package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/deepdesk/internal/catalog"
	"github.com/kalambet/deepdesk/internal/deepresearch"
	"github.com/kalambet/deepdesk/internal/mna"
	"github.com/kalambet/deepdesk/internal/session"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Session    SessionController
	History    HistoryReader
	Catalog    *catalog.Catalog
	AlertEmail string
}

// NewMCPServer creates an MCP server exposing the research session as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}

	s := server.NewMCPServer(
		"deepdesk",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("deepdesk: start, follow and steer long-running deep research reports."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("start_research",
			mcp.WithDescription("Start a deep research report and make it the active task."),
			mcp.WithString("subject", mcp.Description("Company, market or question to research"), mcp.Required()),
			mcp.WithString("research_type", mcp.Description("mna, company, market, competitive, industry or custom"), mcp.Enum(researchTypeNames()...)),
			mcp.WithString("mode", mcp.Description("fast, standard, heavy or max"), mcp.Enum(modeNames()...)),
			mcp.WithString("focus", mcp.Description("What the report should concentrate on")),
			mcp.WithString("client_context", mcp.Description("Who the report is for")),
			mcp.WithString("specific_questions", mcp.Description("Questions the report must answer")),
			mcp.WithArray("data_categories", mcp.Description("M&A data categories to gather"), mcp.WithStringItems()),
			mcp.WithString("deal_context", mcp.Description("M&A deal rationale or structure")),
			mcp.WithArray("urls", mcp.Description("Source URLs to include (max 10)"), mcp.WithStringItems()),
			mcp.WithBoolean("confirm", mcp.Description("Required for max mode, which can run for hours")),
		),
		mcpStartResearch(deps),
	)

	s.AddTool(
		mcp.NewTool("research_status",
			mcp.WithDescription("Return the state of the active research, or open a task by id or share link first."),
			mcp.WithString("reference", mcp.Description("Optional task id or share link to open")),
		),
		mcpResearchStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("cancel_research",
			mcp.WithDescription("Cancel the active research."),
		),
		mcpCancelResearch(deps),
	)

	s.AddTool(
		mcp.NewTool("follow_up_research",
			mcp.WithDescription("Ask a follow-up of the active research; the follow-up becomes the active task."),
			mcp.WithString("instruction", mcp.Description("What to dig into next"), mcp.Required()),
		),
		mcpFollowUpResearch(deps),
	)

	s.AddTool(
		mcp.NewTool("build_mna_query",
			mcp.WithDescription("Assemble the M&A due-diligence query, deliverables and search configuration from gathered financial data."),
			mcp.WithString("target_company", mcp.Description("Acquisition target"), mcp.Required()),
			mcp.WithArray("categories", mcp.Description("Data categories that were searched"), mcp.WithStringItems()),
			mcp.WithString("phase_one_results", mcp.Description("JSON array of {label, success, error, data} results")),
			mcp.WithString("deal_context", mcp.Description("Deal rationale or structure")),
			mcp.WithString("research_focus", mcp.Description("Areas to emphasise")),
			mcp.WithString("specific_questions", mcp.Description("Questions the report must answer")),
		),
		mcpBuildMnAQuery(),
	)

	s.AddResource(
		mcp.NewResource(
			"research://session",
			"Active Research",
			mcp.WithResourceDescription("Current research session state as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSession(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"research://examples",
			"Example Reports",
			mcp.WithResourceDescription("Curated public example reports"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceExamples(deps),
	)

	return s
}

func researchTypeNames() []string {
	out := make([]string, len(deepresearch.ResearchTypes))
	for i, t := range deepresearch.ResearchTypes {
		out[i] = string(t)
	}
	return out
}

func modeNames() []string {
	out := make([]string, len(deepresearch.Modes))
	for i, m := range deepresearch.Modes {
		out[i] = string(m)
	}
	return out
}

func mcpStartResearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		subject, err := req.RequireString("subject")
		if err != nil {
			return mcpError("subject is required"), nil
		}
		rr := ResearchRequest{
			ResearchType:      req.GetString("research_type", ""),
			Subject:           subject,
			Focus:             req.GetString("focus", ""),
			ClientContext:     req.GetString("client_context", ""),
			SpecificQuestions: req.GetString("specific_questions", ""),
			Mode:              req.GetString("mode", ""),
			DataCategories:    req.GetStringSlice("data_categories", nil),
			DealContext:       req.GetString("deal_context", ""),
			URLs:              req.GetStringSlice("urls", nil),
			Confirm:           req.GetBool("confirm", false),
		}
		create, err := rr.createRequest(deps.AlertEmail)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		id, err := deps.Session.Launch(ctx, create)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to start research: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Started research %s (%s mode, expect %s).", id, create.Mode, create.Mode.Duration())), nil
	}
}

func mcpResearchStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if ref := strings.TrimSpace(req.GetString("reference", "")); ref != "" {
			id, ok := deepresearch.ParseReference(ref)
			if !ok {
				return mcpError(fmt.Sprintf("%q is neither a task id nor a share link", ref)), nil
			}
			if deps.Session.Snapshot().TaskID != id {
				if err := deps.Session.ResumeFromLink(ctx, id); err != nil {
					return mcpError(fmt.Sprintf("failed to open %s: %v", id, err)), nil
				}
			}
		}

		v := deps.Session.Snapshot()
		b, err := json.Marshal(v)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal session: %v", err)), nil
		}
		return mcpText(describe(v) + "\n\n" + string(b)), nil
	}
}

func mcpCancelResearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		v, err := deps.Session.Cancel(context.WithoutCancel(ctx))
		if err != nil {
			return mcpError(fmt.Sprintf("cancel failed: %v", err)), nil
		}
		if v.Phase != session.PhaseCancelled {
			return mcpText(fmt.Sprintf("Closed %s; it was already %s.", v.DisplayTitle(), v.Phase)), nil
		}
		return mcpText(fmt.Sprintf("Cancelled %s.", v.DisplayTitle())), nil
	}
}

func mcpFollowUpResearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		instruction, err := req.RequireString("instruction")
		if err != nil || strings.TrimSpace(instruction) == "" {
			return mcpError("instruction is required"), nil
		}
		id, err := deps.Session.FollowUp(ctx, instruction)
		if err != nil {
			return mcpError(fmt.Sprintf("follow-up failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Follow-up %s started.", id)), nil
	}
}

func mcpBuildMnAQuery() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		target, err := req.RequireString("target_company")
		if err != nil || strings.TrimSpace(target) == "" {
			return mcpError("target_company is required"), nil
		}

		var results []mna.Result
		if raw := req.GetString("phase_one_results", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &results); err != nil {
				return mcpError(fmt.Sprintf("invalid phase_one_results JSON: %v", err)), nil
			}
		}

		categories := req.GetStringSlice("categories", nil)
		for _, c := range categories {
			if _, ok := mna.LookupCategory(c); !ok {
				return mcpError(fmt.Sprintf("unknown category %q; valid: %s", c, strings.Join(mna.CategoryIDs(), ", "))), nil
			}
		}

		plan := mna.BuildPlan(mna.QueryInput{
			TargetCompany:     target,
			Financial:         mna.NewFinancialContext(results),
			DealContext:       req.GetString("deal_context", ""),
			ResearchFocus:     req.GetString("research_focus", ""),
			SpecificQuestions: req.GetString("specific_questions", ""),
		}, categories)

		b, err := json.Marshal(plan)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal plan: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceSession(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return jsonResource(req.Params.URI, deps.Session.Snapshot())
	}
}

func mcpResourceExamples(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if len(deps.Catalog.Examples) == 0 {
			return nil, errors.New("no example reports configured")
		}
		return jsonResource(req.Params.URI, deps.Catalog.Examples)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
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
