package advanceallocation

import "nomination-workers/internal/common/validation"

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"runId"},
		Properties: map[string]validation.Property{
			"runId": {
				Type:        "string",
				Description: "Run the session belongs to",
				MinLength:   validation.IntPtr(1),
				MaxLength:   validation.IntPtr(128),
			},
			"capacityDatasetId": {
				Type:        "string",
				Description: "Stored capacity table, needed to start a session",
			},
			"applicationDatasetId": {
				Type:        "string",
				Description: "Stored application table, needed to start a session",
			},
			"capacitySchema":    validation.StringMap("Capacity column label overrides by field"),
			"applicationSchema": validation.StringMap("Application column label overrides by field"),
			"restart": {
				Type:        "boolean",
				Description: "Discard the stored session first",
			},
		},
		AdditionalProperties: true,
	}
}
