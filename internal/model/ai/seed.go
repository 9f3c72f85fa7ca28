package ai

// Seed provides the default model catalog offered to clients.
func Seed() []Descriptor {
	return []Descriptor{
		{
			Key:          "deepseek-r1",
			Name:         "DeepSeek R1",
			Provider:     "openrouter",
			Model:        "deepseek/deepseek-r1:free",
			Capabilities: []Capability{CapText, CapReasoning, CapThinking},
			Description:  "Advanced reasoning model with thinking capabilities",
		},
		{
			Key:          "deepseek-r1-qwen3",
			Name:         "DeepSeek R1 Qwen3 8B",
			Provider:     "openrouter",
			Model:        "deepseek/deepseek-r1-0528-qwen3-8b:free",
			Capabilities: []Capability{CapText, CapReasoning, CapThinking},
			Description:  "Efficient reasoning model with 8B parameters",
		},
		{
			Key:          "kimi-dev-72b",
			Name:         "Kimi Dev 72B",
			Provider:     "openrouter",
			Model:        "moonshotai/kimi-dev-72b:free",
			Capabilities: []Capability{CapText, CapCoding, CapEngineering},
			Description:  "Specialized for software engineering tasks",
		},
		{
			Key:          "qwen3-30b",
			Name:         "Qwen3 30B A3B",
			Provider:     "openrouter",
			Model:        "qwen/qwen3-30b-a3b:free",
			Capabilities: []Capability{CapText, CapReasoning, CapMultilingual},
			Description:  "Versatile model with thinking and dialogue modes",
		},
		{
			Key:          "mistral-small",
			Name:         "Mistral Small 3.1 24B",
			Provider:     "openrouter",
			Model:        "mistralai/mistral-small-3.1-24b-instruct:free",
			Capabilities: []Capability{CapText, CapVision, CapMultilingual},
			Description:  "Multimodal model with vision capabilities",
		},
		{
			Key:          "reka-flash-3",
			Name:         "Reka Flash 3",
			Provider:     "openrouter",
			Model:        "rekaai/reka-flash-3:free",
			Capabilities: []Capability{CapText, CapReasoning, CapCoding},
			Description:  "Fast and efficient general-purpose model",
		},
		{
			Key:          "devstral-small",
			Name:         "Devstral Small (24B)",
			Provider:     "openrouter",
			Model:        "mistralai/devstral-small-2505:free",
			Capabilities: []Capability{CapText, CapCoding, CapAgentic},
			Description:  "Specialized for advanced software engineering tasks.",
		},
		{
			Key:          "glm-z1-32b",
			Name:         "GLM-Z1 Reasoning (32B)",
			Provider:     "openrouter",
			Model:        "thudm/glm-z1-32b:free",
			Capabilities: []Capability{CapText, CapReasoning, CapCoding, CapMath},
			Description:  "Enhanced reasoning variant for deep logical problem solving.",
		},
		{
			Key:          "mai-ds-r1",
			Name:         "Microsoft MAI DS R1",
			Provider:     "openrouter",
			Model:        "microsoft/mai-ds-r1:free",
			Capabilities: []Capability{CapText, CapReasoning, CapCoding},
			Description:  "Reasoning model with enhanced safety and unblocking.",
		},
		{
			Key:          "gemma-3n-2b",
			Name:         "Google Gemma 3n (2B)",
			Provider:     "openrouter",
			Model:        "google/gemma-3n-e2b-it:free",
			Capabilities: []Capability{CapText, CapMultilingual, CapReasoning},
			Description:  "Efficient multimodal model for low-resource deployment.",
		},
	}
}
