package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clarahq/clara/pkg/models"
)

type datetimeParams struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name (default UTC)"`
}

// NewDatetimeTool builds the datetime definition.
func NewDatetimeTool() *Definition {
	return &Definition{
		Name:        "datetime",
		Description: "Get the current date and time, optionally in a specific timezone.",
		Schema:      schemaFor(&datetimeParams{}),
		Risk:        models.RiskSafe,
		Intent:      models.IntentRead,
		Handler: func(ctx context.Context, inv Invocation) (string, error) {
			var params datetimeParams
			if len(inv.Params) > 0 {
				if err := json.Unmarshal(inv.Params, &params); err != nil {
					return "", fmt.Errorf("invalid parameters: %w", err)
				}
			}

			loc := time.UTC
			if params.Timezone != "" {
				var err error
				loc, err = time.LoadLocation(params.Timezone)
				if err != nil {
					return "", fmt.Errorf("unknown timezone %q", params.Timezone)
				}
			}

			now := time.Now().In(loc)
			return fmt.Sprintf("%s (%s, unix %d)",
				now.Format("Monday, January 2, 2006 15:04:05 MST"),
				loc.String(),
				now.Unix()), nil
		},
	}
}
