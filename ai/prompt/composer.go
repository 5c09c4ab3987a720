// Package prompt assembles the layered system prompt for the respond
// node: system, agent instructions, knowledge-base context, confidence
// disclaimers and conversation memory. Prompts shown to customers are
// Spanish; placeholders like {customer_name} are interpolated when the
// config enables dynamic variables and left intact otherwise.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/atiendohq/atiendo/store"
)

// Layer selects which configured prompt to compose.
type Layer string

const (
	LayerSystem   Layer = "system"
	LayerAgent    Layer = "agent"
	LayerGreet    Layer = "greet"
	LayerHandoff  Layer = "handoff"
	LayerFallback Layer = "fallback"
)

// memoryLimit caps how much of the rolling summary enters the prompt.
const memoryLimit = 300

// Context is the conversation state the composer draws variables from.
type Context struct {
	CustomerName   string
	Sentiment      string
	Complexity     string
	SummaryText    string
	RetrievedDocs  []string
	Confidence     float64
	SuggestHandoff bool
	Now            time.Time
}

const defaultSystemPrompt = `Eres un asistente de atención al cliente de WhatsApp.

REGLAS CRÍTICAS:
- Siempre sé respetuoso y profesional
- Si no tienes información en la base de conocimiento, di "No tengo esa información" y ofrece conectar con un humano
- Usa el contexto de conocimiento provisto para responder
- NO inventes información`

const defaultHandoffPrompt = "Te conecto con un asesor que te ayudará mejor 👤"

const defaultFallbackPrompt = "Lo siento, no tengo información específica sobre eso. ¿Te gustaría que te conecte con un asesor?"

const veryLowConfidenceDisclaimer = `

⚠️ CRÍTICO: Tu nivel de confianza sobre esta consulta es MUY BAJO (<40%).
No tienes información suficiente para responder con certeza.
DEBES ofrecer conectar al usuario con un asesor humano de forma directa y clara.
Ejemplo: "Para ayudarte mejor con esto, te recomiendo hablar con uno de nuestros asesores. ¿Te conecto?"
`

const lowConfidenceDisclaimer = `

💡 NOTA: Tu nivel de confianza sobre esta consulta es MEDIO (40-60%).
Responde lo mejor que puedas con la información disponible, pero al final
sugiere de forma natural que pueden contactar a un asesor si necesitan más ayuda.
Ejemplo: "Si necesitas más detalles específicos, puedo conectarte con un asesor 👤"
`

const suggestHandoffDisclaimer = `

💡 SUGERENCIA: Aunque puedes responder, el usuario podría beneficiarse de atención humana.
Incluye sutilmente la opción de hablar con un asesor si lo prefiere.
`

// ComposeLayer composes one prompt layer with variables injected.
// Returns "" for optional layers that are not configured.
func ComposeLayer(cfg *store.AgentConfig, c *Context, layer Layer) string {
	var base string
	switch layer {
	case LayerSystem:
		base = cfg.SystemPrompt
		if base == "" {
			base = defaultSystemPrompt
		}
	case LayerAgent:
		base = cfg.AgentPrompt
	case LayerGreet:
		base = cfg.GreetPrompt
	case LayerHandoff:
		base = cfg.HandoffPrompt
		if base == "" {
			base = defaultHandoffPrompt
		}
	case LayerFallback:
		base = cfg.FallbackPrompt
		if base == "" {
			base = defaultFallbackPrompt
		}
	}
	if base == "" {
		return ""
	}

	if cfg.EnableDynamicVariables {
		base = injectSystemVariables(base, cfg, c)
	}

	// Custom variables go after system variables so a user cannot
	// shadow the documented ones.
	for name, value := range cfg.CustomVariables {
		base = strings.ReplaceAll(base, "{"+name+"}", value)
	}

	if layer == LayerSystem && cfg.EnableConversationMemory && c.SummaryText != "" {
		memory := c.SummaryText
		if runes := []rune(memory); len(runes) > memoryLimit {
			memory = string(runes[:memoryLimit])
		}
		base += "\n\n--- Resumen de Conversación Previa ---\n" + memory + "\n"
	}

	return base
}

// ComposeFull builds the complete respond-node prompt from all layers.
func ComposeFull(cfg *store.AgentConfig, c *Context, includeKB, includeDisclaimers bool) string {
	var layers []string

	if system := ComposeLayer(cfg, c, LayerSystem); system != "" {
		layers = append(layers, system)
	}
	if agent := ComposeLayer(cfg, c, LayerAgent); agent != "" {
		layers = append(layers, "\n--- Instrucciones Específicas ---\n"+agent)
	}
	if includeKB && len(c.RetrievedDocs) > 0 {
		layers = append(layers, "\n--- Base de Conocimiento ---\n"+strings.Join(c.RetrievedDocs, "\n\n"))
	}
	if includeDisclaimers {
		if disclaimer := ConfidenceDisclaimer(c.Confidence, c.SuggestHandoff); disclaimer != "" {
			layers = append(layers, disclaimer)
		}
	}

	return strings.Join(layers, "\n")
}

// ConfidenceDisclaimer returns the steering block for the current
// confidence band, or "" when none applies.
func ConfidenceDisclaimer(confidence float64, suggestHandoff bool) string {
	switch {
	case confidence < 0.4:
		return veryLowConfidenceDisclaimer
	case confidence < 0.6:
		return lowConfidenceDisclaimer
	case suggestHandoff:
		return suggestHandoffDisclaimer
	}
	return ""
}

var systemVariables = map[string]func(cfg *store.AgentConfig, c *Context) string{
	"business_name": func(cfg *store.AgentConfig, c *Context) string {
		if cfg.BusinessName == "" {
			return "nuestro negocio"
		}
		return cfg.BusinessName
	},
	"customer_name": func(cfg *store.AgentConfig, c *Context) string {
		if c.CustomerName == "" {
			return "Cliente"
		}
		return c.CustomerName
	},
	"current_time": func(cfg *store.AgentConfig, c *Context) string {
		return c.now().Format("03:04 PM")
	},
	"current_date": func(cfg *store.AgentConfig, c *Context) string {
		now := c.now()
		return fmt.Sprintf("%02d de %s, %d", now.Day(), spanishMonths[now.Month()-1], now.Year())
	},
	"day_of_week": func(cfg *store.AgentConfig, c *Context) string {
		return spanishWeekdays[c.now().Weekday()]
	},
	"conversation_summary": func(cfg *store.AgentConfig, c *Context) string {
		return c.SummaryText
	},
	"sentiment": func(cfg *store.AgentConfig, c *Context) string {
		if c.Sentiment == "" {
			return "neutral"
		}
		return c.Sentiment
	},
	"complexity": func(cfg *store.AgentConfig, c *Context) string {
		if c.Complexity == "" {
			return "medium"
		}
		return c.Complexity
	},
}

func (c *Context) now() time.Time {
	if c.Now.IsZero() {
		return time.Now()
	}
	return c.Now
}

func injectSystemVariables(prompt string, cfg *store.AgentConfig, c *Context) string {
	for name, resolve := range systemVariables {
		placeholder := "{" + name + "}"
		if strings.Contains(prompt, placeholder) {
			prompt = strings.ReplaceAll(prompt, placeholder, resolve(cfg, c))
		}
	}
	return prompt
}

var spanishMonths = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

var spanishWeekdays = [...]string{
	"Domingo", "Lunes", "Martes", "Miércoles", "Jueves", "Viernes", "Sábado",
}

// Variable documents one placeholder for configuration UIs.
type Variable struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Example     string `json:"example"`
	Category    string `json:"category"`
}

// AvailableVariables lists the documented system placeholders.
func AvailableVariables() []Variable {
	return []Variable{
		{Name: "{business_name}", Description: "Nombre del negocio", Example: "Tienda El Sol", Category: "sistema"},
		{Name: "{customer_name}", Description: "Nombre del cliente actual", Example: "Juan Pérez", Category: "sistema"},
		{Name: "{current_time}", Description: "Hora actual (formato 12h)", Example: "08:30 PM", Category: "sistema"},
		{Name: "{current_date}", Description: "Fecha actual", Example: "14 de noviembre, 2025", Category: "sistema"},
		{Name: "{day_of_week}", Description: "Día de la semana", Example: "Jueves", Category: "sistema"},
		{Name: "{conversation_summary}", Description: "Resumen de conversación previa (si existe)", Example: "El cliente preguntó sobre precios...", Category: "sistema"},
		{Name: "{sentiment}", Description: "Sentiment detectado del cliente", Example: "positive, neutral, negative", Category: "sistema"},
		{Name: "{complexity}", Description: "Complejidad de la consulta", Example: "simple, medium, complex", Category: "sistema"},
	}
}
