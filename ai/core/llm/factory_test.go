package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct{ provider string }

func (s *stubService) Complete(ctx context.Context, req *Request) (*Result, error) {
	return &Result{Text: "ok"}, nil
}

func (s *stubService) Provider() string { return s.provider }

func TestNewFactory(t *testing.T) {
	t.Run("skips providers without key", func(t *testing.T) {
		f, err := NewFactory(
			&Config{Provider: "openai", APIKey: "sk-test"},
			&Config{Provider: "groq"},
		)
		require.NoError(t, err)

		_, err = f.Service("openai")
		assert.NoError(t, err)

		_, err = f.Service("groq")
		assert.Error(t, err)
	})

	t.Run("fails when nothing is configured", func(t *testing.T) {
		_, err := NewFactory(&Config{Provider: "openai"})
		assert.Error(t, err)
	})
}

func TestNewStaticFactory(t *testing.T) {
	f := NewStaticFactory(map[string]Service{"groq": &stubService{provider: "groq"}})

	svc, err := f.Service("groq")
	require.NoError(t, err)
	assert.Equal(t, "groq", svc.Provider())
}

func TestNewServiceRequiresKey(t *testing.T) {
	_, err := NewService(&Config{Provider: "openai"})
	assert.Error(t, err)
}

func TestMessageHelpers(t *testing.T) {
	assert.Equal(t, Message{Role: "system", Content: "a"}, SystemPrompt("a"))
	assert.Equal(t, Message{Role: "user", Content: "b"}, UserMessage("b"))
	assert.Equal(t, Message{Role: "assistant", Content: "c"}, AssistantMessage("c"))
}
