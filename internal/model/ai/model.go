package ai

// Capability names a feature a model advertises. Turns that need a
// capability the target model lacks are rejected before any backend call.
type Capability string

const (
	CapText         Capability = "text"
	CapVision       Capability = "vision"
	CapReasoning    Capability = "reasoning"
	CapThinking     Capability = "thinking"
	CapCoding       Capability = "coding"
	CapMath         Capability = "math"
	CapAgentic      Capability = "agentic"
	CapEngineering  Capability = "engineering"
	CapMultilingual Capability = "multilingual"
)

// Descriptor captures the catalog attributes exposed to the frontend for
// one selectable model. Model is the backend-native identifier passed to
// the completion API; Key is what clients send.
type Descriptor struct {
	Key          string       `json:"key"`
	Name         string       `json:"name"`
	Provider     string       `json:"provider"`
	Model        string       `json:"model"`
	Capabilities []Capability `json:"capabilities"`
	Description  string       `json:"description,omitempty"`
}

// Supports reports whether the descriptor advertises the capability.
func (d Descriptor) Supports(cap Capability) bool {
	for _, c := range d.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}
