package mcp

// FeatureFlags describes what the negotiated protocol revision supports.
// Revisions are dated strings, so lexicographic comparison is ordering.
type FeatureFlags struct {
	ToolAnnotations   bool
	StructuredOutput  bool
	TaskNotifications bool
	Elicitation       bool
}

func featuresForVersion(version string) FeatureFlags {
	return FeatureFlags{
		ToolAnnotations:   version >= "2025-03-26",
		StructuredOutput:  version >= "2025-06-18",
		TaskNotifications: version >= "2025-03-26",
		Elicitation:       version >= "2025-06-18",
	}
}
