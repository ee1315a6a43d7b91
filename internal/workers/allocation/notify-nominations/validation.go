package notifynominations

import "nomination-workers/internal/common/validation"

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"runId"},
		Properties: map[string]validation.Property{
			"runId": {
				Type:        "string",
				Description: "Finished run whose students are notified",
				MinLength:   validation.IntPtr(1),
			},
			"applicationSchema": validation.StringMap("Application column label overrides by field"),
		},
		AdditionalProperties: true,
	}
}
