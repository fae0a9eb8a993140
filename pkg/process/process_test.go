package process

import (
	"testing"

	"github.com/sf7293/async-queue/configs"
	"github.com/sf7293/async-queue/internal/domain"
	"github.com/sf7293/async-queue/internal/errval"
	"github.com/sf7293/async-queue/pkg/claude"
	"github.com/sf7293/async-queue/pkg/ollama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProcess(t *testing.T) {
	cfg := configs.ProcessorConfig{ClaudeBinary: "claude"}

	p, err := NewProcess(domain.Claude, cfg)
	require.NoError(t, err)
	assert.IsType(t, claude.CLITask{}, p)

	t.Setenv("OLLAMA_HOST", "http://127.0.0.1:11434")
	p, err = NewProcess(domain.Ollama, cfg)
	require.NoError(t, err)
	assert.IsType(t, &ollama.GenerateTask{}, p)

	_, err = NewProcess("gpt", cfg)
	assert.ErrorIs(t, err, errval.ErrInvalidBackend)
}
