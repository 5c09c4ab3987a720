package engine

import (
	"context"

	"github.com/atiendohq/atiendo/ai/prompt"
)

const defaultGreeting = "¡Hola! 👋 ¿En qué puedo ayudarte hoy?"

// greet opens a first conversation with the configured greeting before
// the respond node answers the actual message.
func (t *turn) greet(ctx context.Context, s *State) (*Update, error) {
	greeting := prompt.ComposeLayer(t.cfg, t.promptContext(s), prompt.LayerGreet)
	if greeting == "" {
		greeting = defaultGreeting
	}
	return &Update{AppendMessages: []Message{AIMessage(greeting)}}, nil
}
