package orchestrator

import (
	"fmt"
	"strings"

	"redline/internal/llm"
	"redline/internal/models"
)

const (
	// Compaction triggers once the context estimate crosses this share of
	// the model's window.
	compactionThreshold = 0.8
	// Fewer new entries than this are not worth a summarization round-trip.
	compactionMinEntries = 5
	compactionPrompt     = "You are summarizing a security research session for context " +
		"compression. Produce a dense factual summary of the conversation below: " +
		"objectives, commands run and their key results, discovered hosts, services, " +
		"vulnerabilities, credentials, and decisions taken. Keep concrete values " +
		"(addresses, ports, module names, hashes). Do not add commentary."
)

// estimateContextTokens combines the provider's true usage numbers from the
// most recent response with a 4-characters-per-token estimate for anything
// appended since.
func (o *Orchestrator) estimateContextTokens(entries []*models.Entry) (int, error) {
	input, output, err := o.deps.DB.LatestUsage(o.sessionID)
	if err != nil {
		return 0, err
	}
	estimate := input + output

	// Console context entries arrive outside LLM round-trips, so the usage
	// numbers never saw them.
	for _, e := range entries {
		if e.Type == models.EntryTypeConsoleContext {
			estimate += len(e.ConsoleContext.Output) / 4
		}
	}
	return estimate, nil
}

// startCompaction selects a boundary and launches background summarization.
// forced skips the size trigger but still requires enough new material.
func (o *Orchestrator) startCompaction(forced bool) error {
	if o.compacting {
		if forced {
			return fmt.Errorf("compaction already in progress")
		}
		return nil
	}

	entries, err := o.deps.DB.LoadEntries(o.sessionID)
	if err != nil {
		return err
	}
	if !forced {
		estimate, err := o.estimateContextTokens(entries)
		if err != nil {
			return err
		}
		if float64(estimate) < compactionThreshold*float64(o.deps.ContextTokens) {
			return nil
		}
		o.logger.Info("context estimate crossed compaction threshold", "estimate", estimate, "limit", o.deps.ContextTokens)
	}

	prev, err := o.deps.DB.LatestCompaction(o.sessionID)
	if err != nil {
		return err
	}
	prevBoundary := 0
	if prev != nil {
		prevBoundary = prev.UpToPosition
	}

	// Boundary: the last fully settled position. Compaction only runs
	// between turns, so everything persisted is settled.
	var scope []*models.Entry
	boundary := prevBoundary
	for _, e := range entries {
		if e.Position <= prevBoundary {
			continue
		}
		scope = append(scope, e)
		if e.Position > boundary {
			boundary = e.Position
		}
	}
	if len(scope) < compactionMinEntries {
		if forced {
			return fmt.Errorf("only %d entries since last compaction, nothing to compact", len(scope))
		}
		return nil
	}

	record := &models.Compaction{
		SessionID:    o.sessionID,
		UpToPosition: boundary,
		EntryCount:   len(scope),
	}
	if prev != nil {
		record.PreviousCompactionID = &prev.ID
	}
	if estimate, err := o.estimateContextTokens(entries); err == nil {
		record.TokensBefore = estimate
	}

	var transcript strings.Builder
	if prev != nil {
		transcript.WriteString("Earlier summary:\n" + prev.Summary + "\n\n")
	}
	transcript.WriteString(renderTranscript(scope))

	o.compacting = true
	o.logger.Info("compaction started", "boundary", boundary, "entries", len(scope))
	go func() {
		summary, err := o.deps.LLM.Complete(o.ctx, llm.Request{
			Messages: []map[string]interface{}{
				{"role": "system", "content": compactionPrompt},
				{"role": "user", "content": transcript.String()},
			},
		})
		record.Summary = summary
		record.TokensAfter = len(summary) / 4
		o.enqueue(compactionResult{record: record, err: err})
	}()
	return nil
}

func (o *Orchestrator) handleCompactionResult(res compactionResult) {
	o.compacting = false
	if res.err != nil {
		o.logger.Error("compaction summarization failed", "error", res.err)
		return
	}
	if err := o.deps.DB.CreateCompaction(res.record); err != nil {
		o.logger.Error("failed to persist compaction", "error", err)
		return
	}
	o.logger.Info("compaction recorded",
		"compaction_id", res.record.ID,
		"boundary", res.record.UpToPosition,
		"entries", res.record.EntryCount,
		"tokens_before", res.record.TokensBefore,
		"tokens_after", res.record.TokensAfter,
	)
	o.publish(models.ServerMessage{Type: "state", State: map[string]any{
		"compacted_up_to": res.record.UpToPosition,
	}})
}

// renderTranscript flattens entries into plain text for the summarizer. The
// memory scratchpad is deliberately absent: it is re-injected fresh on every
// request and must never be folded into a summary.
func renderTranscript(entries []*models.Entry) string {
	var b strings.Builder
	for _, e := range entries {
		switch e.Type {
		case models.EntryTypeMessage:
			if e.Message.MessageType == models.MessageTypeThinking {
				continue
			}
			fmt.Fprintf(&b, "[%s] %s\n", e.Message.Role, e.Message.Content)
		case models.EntryTypeToolInvocation:
			inv := e.ToolInvocation
			fmt.Fprintf(&b, "[tool %s %s] args=%s", inv.ToolName, inv.Status, inv.Arguments)
			if inv.Result != "" {
				fmt.Fprintf(&b, " result=%s", inv.Result)
			}
			if inv.ErrorReason != "" {
				fmt.Fprintf(&b, " error=%s", inv.ErrorReason)
			}
			if inv.DenialReason != "" {
				fmt.Fprintf(&b, " denied=%s", inv.DenialReason)
			}
			b.WriteString("\n")
		case models.EntryTypeConsoleContext:
			fmt.Fprintf(&b, "[console %s] %s\n%s\n", e.ConsoleContext.Kind, e.ConsoleContext.Command, e.ConsoleContext.Output)
		}
	}
	return b.String()
}
