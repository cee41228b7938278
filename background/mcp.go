package background

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/morph/internal/history"
	"github.com/hazyhaar/morph/kit"
)

type updateSettingsArgs struct {
	Settings json.RawMessage `json:"settings"`
}

type recentArgs struct {
	PageID string `json:"page_id"`
	Word   string `json:"word"`
	Limit  int    `json:"limit"`
}

type testAPIKeyArgs struct {
	APIKey string `json:"apiKey"`
}

// RegisterMCP exposes the settings operations as MCP tools.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	mw := func(name string) kit.Middleware { return kit.Logging(s.logger, name) }

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "morph_get_settings",
		Description: "Return the stored morph settings object ({} when nothing is stored).",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}, mw("get_settings")(func(ctx context.Context, _ any) (any, error) {
		return s.Settings(ctx)
	}), kit.DecodeArgs[struct{}])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "morph_update_settings",
		Description: "Replace the stored morph settings with the given object.",
		InputSchema: kit.InputSchema(map[string]any{
			"settings": map[string]any{
				"type":        "object",
				"description": "Full settings object: enabled, timerDelay (ms), questionTypes, openaiApiKey",
			},
		}, []string{"settings"}),
	}, mw("update_settings")(func(ctx context.Context, req any) (any, error) {
		args := req.(*updateSettingsArgs)
		if err := s.UpdateSettings(ctx, args.Settings); err != nil {
			return nil, err
		}
		return Success{Success: true}, nil
	}), kit.DecodeArgs[updateSettingsArgs])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "morph_toggle",
		Description: "Flip question detection on or off and return the new state.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}, mw("toggle")(func(ctx context.Context, _ any) (any, error) {
		enabled, err := s.Toggle(ctx)
		if err != nil {
			return nil, err
		}
		return Toggled{Enabled: enabled}, nil
	}), kit.DecodeArgs[struct{}])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "morph_test_api_key",
		Description: "Check an API key against the models endpoint.",
		InputSchema: kit.InputSchema(map[string]any{
			"apiKey": map[string]any{"type": "string"},
		}, []string{"apiKey"}),
	}, mw("test_api_key")(func(ctx context.Context, req any) (any, error) {
		args := req.(*testAPIKeyArgs)
		return KeyCheck{IsValid: s.ValidateAPIKey(ctx, args.APIKey)}, nil
	}), kit.DecodeArgs[testAPIKeyArgs])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "morph_recent_detections",
		Description: "List recently detected questions, newest first.",
		InputSchema: kit.InputSchema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Only this page"},
			"word":    map[string]any{"type": "string", "description": "Only this question word"},
			"limit":   map[string]any{"type": "integer", "description": "Max entries (default 50)"},
		}, nil),
	}, mw("recent_detections")(func(ctx context.Context, req any) (any, error) {
		args := req.(*recentArgs)
		entries, err := s.Detections(ctx, history.Filter{PageID: args.PageID, Word: args.Word, Limit: args.Limit})
		if err != nil {
			return nil, err
		}
		return map[string]any{"detections": entries}, nil
	}), kit.DecodeArgs[recentArgs])
}
