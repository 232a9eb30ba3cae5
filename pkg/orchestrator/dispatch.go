package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/iagenerativa/hlcs/pkg/metacog"
	"github.com/iagenerativa/hlcs/pkg/models"
	"github.com/iagenerativa/hlcs/pkg/toolserver"
)

// Workflow names recorded in diagnostics.
const (
	workflowSimple     = "simple"
	workflowComplex    = "complex"
	workflowMultimodal = "multimodal"
	workflowLocal      = "local"
	workflowEnsemble   = "ensemble"
	workflowFallback   = "fallback"
)

// ensembleMargin is the quality gap at which the better ensemble answer
// wins outright instead of being synthesized with the other.
const ensembleMargin = 0.1

// ensembleFlag is the feature flag gating the ensemble path per user.
const ensembleFlag = "ensemble"

// divergenceLimit aborts refinement after this many consecutive quality
// drops.
const divergenceLimit = 3

// retrievalTopK is the passage count requested from the retriever.
const retrievalTopK = 5

// fallbackAnswer is returned when every backend failed.
const fallbackAnswer = "I could not reach any reasoning backend to answer this. Please try again shortly."

type outcome struct {
	answer     string
	quality    float64
	iterations int
}

// traceLog collects tool call traces; ensemble branches append
// concurrently.
type traceLog struct {
	mu    sync.Mutex
	calls []models.ToolCallTrace
}

func (t *traceLog) add(c models.ToolCallTrace) {
	t.mu.Lock()
	t.calls = append(t.calls, c)
	t.mu.Unlock()
}

// dispatchAndRefine runs the routed workflow, then iterates on the answer
// until it clears the quality threshold or the iteration budget runs out.
// Backend failures degrade through fallbacks; only an expired context
// surfaces as an error.
func (o *Orchestrator) dispatchAndRefine(ctx context.Context, query models.Query, state metacog.MetaState, route metacog.Route, diags *models.Diagnostics) (outcome, error) {
	tr := &traceLog{}
	defer func() {
		diags.ToolCalls = tr.calls
	}()

	answer, workflow, err := o.dispatchOnce(ctx, query, state, route, query.Text, tr, true)
	if err != nil {
		if ctx.Err() != nil {
			return outcome{}, models.Wrap(models.KindTimeout, "query aborted", ctx.Err())
		}
		answer, workflow = o.fallback(ctx, query, route, tr)
		if answer == "" {
			diags.Workflow = workflowFallback
			diags.FallbackUsed = true
			diags.IterationQualities = []float64{0}
			return outcome{answer: fallbackAnswer, quality: 0, iterations: 1}, nil
		}
		diags.FallbackUsed = true
	}
	diags.Workflow = workflow

	quality := o.analyzer.Evaluate(query.Text, answer, nil)
	qualities := []float64{quality}
	iterations := 1
	bestAnswer, bestQuality := answer, quality

	drops := 0
	for iterations < query.Options.MaxIterations && bestQuality < query.Options.QualityThreshold {
		critique := o.analyzer.Critique(query.Text, answer, nil)
		prompt := refinementPrompt(query.Text, answer, critique)

		next, _, err := o.dispatchOnce(ctx, query, state, route, prompt, tr, false)
		if err != nil {
			o.logger.Warn("Refinement pass failed, keeping best answer so far",
				"query_id", query.ID, "iteration", iterations+1, "error", err)
			break
		}
		iterations++

		q := o.analyzer.Evaluate(query.Text, next, nil)
		qualities = append(qualities, q)
		if q < quality {
			drops++
		} else {
			drops = 0
		}
		if q > bestQuality {
			bestAnswer, bestQuality = next, q
		}
		answer, quality = next, q

		if drops >= divergenceLimit {
			o.logger.Warn("Refinement diverging, aborting",
				"query_id", query.ID, "iterations", iterations)
			break
		}
	}

	diags.IterationQualities = qualities
	return outcome{answer: bestAnswer, quality: bestQuality, iterations: iterations}, nil
}

// dispatchOnce runs one pass of the routed workflow with the given prompt.
// Ensemble applies only on the first pass; refinements go to the primary
// backend alone.
func (o *Orchestrator) dispatchOnce(ctx context.Context, query models.Query, state metacog.MetaState, route metacog.Route, prompt string, tr *traceLog, firstPass bool) (string, string, error) {
	if firstPass && route.UseEnsemble && o.ensembleAllowed(query.UserID) {
		answer, err := o.runEnsemble(ctx, query, prompt, tr)
		if err == nil {
			return answer, workflowEnsemble, nil
		}
		o.logger.Warn("Ensemble failed, falling through to primary backend",
			"query_id", query.ID, "error", err)
	}

	if route.PrimaryBackend == metacog.BackendLocalReasoner {
		answer, err := o.runLocal(ctx, query, prompt)
		return answer, workflowLocal, err
	}

	if firstPass && query.Modality != models.ModalityText {
		answer, err := o.runMultimodal(ctx, query, prompt, tr)
		return answer, workflowMultimodal, err
	}

	if state.Complexity >= o.cfg.ComplexityThreshold || route.WithRetrieval {
		answer, err := o.runComplex(ctx, query, prompt, route.WithRetrieval, tr)
		return answer, workflowComplex, err
	}

	answer, err := o.respond(ctx, query, prompt, tr)
	return answer, workflowSimple, err
}

// ensembleAllowed consults the feature flag table. With no table wired the
// path is always available.
func (o *Orchestrator) ensembleAllowed(userID string) bool {
	if o.flags == nil {
		return true
	}
	return o.flags.IsEnabled(ensembleFlag, userID)
}

// fallback tries the backend the router did not pick. Returns "" when
// nothing is reachable.
func (o *Orchestrator) fallback(ctx context.Context, query models.Query, route metacog.Route, tr *traceLog) (string, string) {
	if route.PrimaryBackend != metacog.BackendLocalReasoner && o.local != nil && o.local.Enabled() {
		if answer, err := o.runLocal(ctx, query, query.Text); err == nil {
			return answer, workflowLocal
		}
	}
	if route.PrimaryBackend != metacog.BackendToolServer {
		if answer, err := o.respond(ctx, query, query.Text, tr); err == nil {
			return answer, workflowSimple
		}
	}
	return "", ""
}

// respond invokes the conversational responder tool.
func (o *Orchestrator) respond(ctx context.Context, query models.Query, prompt string, tr *traceLog) (string, error) {
	return o.callCapability(ctx, toolserver.CapConversationalResponder, map[string]any{
		"query":      prompt,
		"session_id": query.SessionID,
		"user_id":    query.UserID,
	}, tr)
}

// runComplex optionally retrieves supporting passages, then responds with
// the retrieved context inlined. Retrieval failure degrades to a plain
// response rather than failing the query.
func (o *Orchestrator) runComplex(ctx context.Context, query models.Query, prompt string, withRetrieval bool, tr *traceLog) (string, error) {
	if withRetrieval && o.router.Has(toolserver.CapRetriever) {
		passages, err := o.callCapability(ctx, toolserver.CapRetriever, map[string]any{
			"query": query.Text,
			"top_k": retrievalTopK,
		}, tr)
		if err != nil {
			o.logger.Warn("Retrieval failed, answering without context",
				"query_id", query.ID, "error", err)
		} else if passages != "" {
			prompt = prompt + "\n\nRelevant context:\n" + passages
		}
	}
	return o.respond(ctx, query, prompt, tr)
}

// runMultimodal analyzes each non-text attachment with its capability
// tool, then answers the question over the analyses. When the final
// response fails, the raw analyses stand in as the answer.
func (o *Orchestrator) runMultimodal(ctx context.Context, query models.Query, prompt string, tr *traceLog) (string, error) {
	var analyses []string
	for _, att := range query.Attachments {
		var capability string
		switch att.Kind {
		case models.ModalityImage:
			capability = toolserver.CapImageAnalyzer
		case models.ModalityAudio:
			capability = toolserver.CapAudioTranscriber
		default:
			continue
		}
		text, err := o.callCapability(ctx, capability, map[string]any{
			"prompt":    query.Text,
			"data":      att.Data,
			"mime_type": att.MimeType,
			"name":      att.Name,
		}, tr)
		if err != nil {
			return "", fmt.Errorf("attachment %q: %w", att.Name, err)
		}
		analyses = append(analyses, text)
	}
	if len(analyses) == 0 {
		return o.respond(ctx, query, prompt, tr)
	}

	combined := prompt + "\n\nMedia analysis:\n" + strings.Join(analyses, "\n")
	answer, err := o.respond(ctx, query, combined, tr)
	if err != nil {
		return strings.Join(analyses, "\n"), nil
	}
	return answer, nil
}

// runLocal sends the query to the local reasoner with the (possibly
// refined) prompt substituted in.
func (o *Orchestrator) runLocal(ctx context.Context, query models.Query, prompt string) (string, error) {
	q := query
	q.Text = prompt
	resp, err := o.local.Process(ctx, q)
	if err != nil {
		return "", err
	}
	return resp.Answer, nil
}

// runEnsemble asks the tool server and the local reasoner in parallel and
// keeps the clearly better answer, or synthesizes when they score within
// the margin of each other.
func (o *Orchestrator) runEnsemble(ctx context.Context, query models.Query, prompt string, tr *traceLog) (string, error) {
	var toolAnswer, localAnswer string
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		toolAnswer, err = o.respond(groupCtx, query, prompt, tr)
		return err
	})
	group.Go(func() error {
		var err error
		localAnswer, err = o.runLocal(groupCtx, query, prompt)
		return err
	})
	if err := group.Wait(); err != nil {
		return "", err
	}

	toolQ := o.analyzer.Evaluate(query.Text, toolAnswer, nil)
	localQ := o.analyzer.Evaluate(query.Text, localAnswer, nil)
	switch {
	case toolQ-localQ >= ensembleMargin:
		return toolAnswer, nil
	case localQ-toolQ >= ensembleMargin:
		return localAnswer, nil
	}

	if o.router.Has(toolserver.CapSynthesize) {
		merged, err := o.callCapability(ctx, toolserver.CapSynthesize, map[string]any{
			"query":   query.Text,
			"answers": []string{toolAnswer, localAnswer},
		}, tr)
		if err != nil || merged == "" {
			o.logger.Warn("Synthesis failed, keeping higher scoring answer",
				"query_id", query.ID, "error", err)
		} else if mergedQ := o.analyzer.Evaluate(query.Text, merged, nil); mergedQ >= toolQ && mergedQ >= localQ {
			return merged, nil
		} else {
			o.logger.Info("Synthesis scored below the candidates, keeping the better one",
				"query_id", query.ID, "merged_quality", mergedQ)
		}
	}
	if localQ > toolQ {
		return localAnswer, nil
	}
	return toolAnswer, nil
}

// callCapability resolves a capability to its tool and invokes it,
// recording the trace.
func (o *Orchestrator) callCapability(ctx context.Context, capability string, args map[string]any, tr *traceLog) (string, error) {
	tool, err := o.router.Resolve(capability)
	if err != nil {
		return "", err
	}
	res, err := o.tools.CallTool(ctx, tool, args)
	trace := models.ToolCallTrace{Tool: tool, LatencyMS: res.LatencyMS, Success: res.Success}
	if err != nil {
		trace.Error = err.Error()
		tr.add(trace)
		return "", err
	}
	if !res.Success {
		trace.Error = res.Error
		tr.add(trace)
		return "", models.Ef(models.KindBackendUnavailable, "tool %s reported: %s", tool, res.Error)
	}
	tr.add(trace)
	return res.Text, nil
}

func refinementPrompt(queryText, previous, critique string) string {
	return queryText +
		"\n\nRevise the previous answer. " + critique +
		"\nPrevious answer:\n" + previous
}
