package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clarahq/clara/internal/memory"
	"github.com/clarahq/clara/pkg/models"
)

type memorySearchParams struct {
	Query string `json:"query" jsonschema:"required,description=What to look for in stored memories"`
}

// NewMemorySearchTool builds the memory_search definition. It queries
// the semantic store directly with the requesting user's linked ids.
func NewMemorySearchTool(client memory.Client) *Definition {
	return &Definition{
		Name:        "memory_search",
		Description: "Search long-term memories about the current user.",
		Schema:      schemaFor(&memorySearchParams{}),
		Risk:        models.RiskSafe,
		Intent:      models.IntentRead,
		Handler: func(ctx context.Context, inv Invocation) (string, error) {
			var params memorySearchParams
			if err := json.Unmarshal(inv.Params, &params); err != nil {
				return "", fmt.Errorf("invalid parameters: %w", err)
			}
			if strings.TrimSpace(params.Query) == "" {
				return "", fmt.Errorf("query is required")
			}

			result, err := client.Search(ctx, params.Query, inv.UserIDs, inv.ProjectID)
			if err != nil {
				return "", fmt.Errorf("memory search: %w", err)
			}

			var sb strings.Builder
			for _, m := range result.UserMemories {
				fmt.Fprintf(&sb, "- %s\n", m)
			}
			for _, m := range result.ProjectMemories {
				fmt.Fprintf(&sb, "- (project) %s\n", m)
			}
			for _, r := range result.Relations {
				fmt.Fprintf(&sb, "- %s %s %s\n", r.Source, r.Relation, r.Target)
			}
			if sb.Len() == 0 {
				return "No memories found for: " + params.Query, nil
			}
			return sb.String(), nil
		},
	}
}
