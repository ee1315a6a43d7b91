package publishnominations

import "nomination-workers/internal/common/validation"

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"runId"},
		Properties: map[string]validation.Property{
			"runId": {
				Type:        "string",
				Description: "Finished run whose result is published",
				MinLength:   validation.IntPtr(1),
			},
			"index": {
				Type:        "string",
				Description: "Target index, defaults to the configured nomination index",
				Pattern:     "^[a-z0-9][a-z0-9._-]*$",
			},
			"applicationSchema": validation.StringMap("Application column label overrides by field"),
		},
		AdditionalProperties: true,
	}
}
