package runallocation

import "nomination-workers/internal/common/validation"

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"capacityDatasetId", "applicationDatasetId"},
		Properties: map[string]validation.Property{
			"runId": {
				Type:        "string",
				Description: "Identifier of the run, generated when absent",
				MaxLength:   validation.IntPtr(128),
			},
			"capacityDatasetId": {
				Type:        "string",
				Description: "Stored capacity table",
				MinLength:   validation.IntPtr(1),
			},
			"applicationDatasetId": {
				Type:        "string",
				Description: "Stored application table",
				MinLength:   validation.IntPtr(1),
			},
			"capacitySchema":    validation.StringMap("Capacity column label overrides by field"),
			"applicationSchema": validation.StringMap("Application column label overrides by field"),
		},
		// process variables beyond the ones above are passed to every job
		AdditionalProperties: true,
	}
}
