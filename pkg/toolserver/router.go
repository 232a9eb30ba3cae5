// Package toolserver provides the client side of the remote tool server.
// The core never references concrete tool names directly; it asks the
// Router to resolve a logical capability tag into the tool name configured
// for it.
package toolserver

import (
	"sort"

	"github.com/iagenerativa/hlcs/pkg/models"
)

// Well-known capability tags.
const (
	CapConversationalResponder = "conversational_responder"
	CapRetriever               = "retriever"
	CapImageAnalyzer           = "image_analyzer"
	CapAudioTranscriber        = "audio_transcriber"
	CapClassifier              = "classifier"
	CapSynthesize              = "synthesize"
)

// Router resolves capability tags to tool names. The map is loaded once at
// startup and read-only afterwards.
type Router struct {
	byCapability map[string]string
}

// NewRouter copies the capability map from configuration.
func NewRouter(capabilities map[string]string) *Router {
	m := make(map[string]string, len(capabilities))
	for cap, tool := range capabilities {
		m[cap] = tool
	}
	return &Router{byCapability: m}
}

// Resolve returns the tool name bound to a capability.
func (r *Router) Resolve(capability string) (string, error) {
	tool, ok := r.byCapability[capability]
	if !ok || tool == "" {
		return "", models.Ef(models.KindNotFound, "no tool configured for capability %q", capability)
	}
	return tool, nil
}

// Has reports whether a capability is configured.
func (r *Router) Has(capability string) bool {
	_, err := r.Resolve(capability)
	return err == nil
}

// Capabilities returns the configured tags in sorted order.
func (r *Router) Capabilities() []string {
	out := make([]string, 0, len(r.byCapability))
	for cap := range r.byCapability {
		out = append(out, cap)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a copy of the capability map for the status surface.
func (r *Router) Snapshot() map[string]string {
	m := make(map[string]string, len(r.byCapability))
	for cap, tool := range r.byCapability {
		m[cap] = tool
	}
	return m
}
