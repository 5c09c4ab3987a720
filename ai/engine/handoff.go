package engine

import (
	"context"
	"log/slog"
)

const (
	handoffMessage       = "Entiendo, te voy a conectar con un miembro de nuestro equipo. Un momento por favor... 👤"
	defaultHandoffReason = "Usuario solicitó atención humana"
)

// handoff ends the turn with a transfer message. The execution row is
// closed with status handoff by the engine; flipping the conversation
// to human attention is the caller's job once it sees the handoff
// metadata.
func (t *turn) handoff(ctx context.Context, s *State) (*Update, error) {
	reason := s.HandoffReason
	if reason == "" {
		reason = defaultHandoffReason
	}

	slog.Info("Handoff: transferring to human",
		"business_id", s.BusinessID,
		"execution_id", s.ExecutionID,
		"reason", reason,
	)

	return &Update{
		HandoffReason:  ptr(reason),
		AppendMessages: []Message{AIMessage(handoffMessage)},
	}, nil
}
