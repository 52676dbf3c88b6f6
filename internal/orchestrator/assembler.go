package orchestrator

import (
	"strings"

	"redline/internal/llm"
	"redline/internal/models"
)

// streamAssembler turns ordered block events from one LLM stream into
// streaming message entries. Purely reactive and owned by the actor loop, so
// it needs no locking. finalize guarantees no entry is left streaming once
// the stream ends, normally or not.
type streamAssembler struct {
	o      *Orchestrator
	blocks map[int]*openBlock
}

type openBlock struct {
	entryID     int64
	position    int
	messageType string
	content     strings.Builder
	open        bool
}

func newStreamAssembler(o *Orchestrator) *streamAssembler {
	return &streamAssembler{o: o, blocks: make(map[int]*openBlock)}
}

func (a *streamAssembler) startBlock(index int, kind llm.BlockKind) {
	messageType := models.MessageTypeResponse
	if kind == llm.BlockThinking {
		messageType = models.MessageTypeThinking
	}
	entry, err := a.o.deps.DB.CreateEntryWithMessage(a.o.sessionID, &a.o.turn.ID, &models.Message{
		Role:        models.RoleAssistant,
		MessageType: messageType,
		Streaming:   true,
	})
	if err != nil {
		a.o.logger.Error("failed to open stream block", "index", index, "error", err)
		return
	}
	a.blocks[index] = &openBlock{entryID: entry.ID, position: entry.Position, messageType: messageType, open: true}
	a.o.publishEntry(entry)
}

func (a *streamAssembler) delta(index int, text string) {
	b, ok := a.blocks[index]
	if !ok || !b.open {
		a.o.logger.Debug("dropping delta for closed block", "index", index)
		return
	}
	b.content.WriteString(text)
	if err := a.o.deps.DB.UpdateMessageContent(b.entryID, b.content.String(), false); err != nil {
		a.o.logger.Warn("failed to persist delta", "position", b.position, "error", err)
		return
	}
	a.o.publish(models.ServerMessage{Type: "entry_delta", Position: b.position, Content: text})
}

func (a *streamAssembler) stopBlock(index int) {
	b, ok := a.blocks[index]
	if !ok || !b.open {
		return
	}
	b.open = false
	if err := a.o.deps.DB.UpdateMessageContent(b.entryID, b.content.String(), true); err != nil {
		a.o.logger.Warn("failed to freeze block", "position", b.position, "error", err)
	}
	a.o.publish(models.ServerMessage{Type: "entry_done", Position: b.position, MessageType: b.messageType, Content: b.content.String()})
}

// finalize flushes any block the stream left open.
func (a *streamAssembler) finalize() {
	for index, b := range a.blocks {
		if b.open {
			a.stopBlock(index)
		}
	}
}
