package process

import (
	"context"
	"fmt"

	"github.com/sf7293/async-queue/configs"
	"github.com/sf7293/async-queue/internal/domain"
	"github.com/sf7293/async-queue/internal/errval"
	"github.com/sf7293/async-queue/pkg/claude"
	"github.com/sf7293/async-queue/pkg/ollama"
)

// Process performs the external text generation for one dispatched task.
type Process interface {
	Execute(ctx context.Context, query, model string) (output string, err error)
}

func NewProcess(backend domain.Backend, cfg configs.ProcessorConfig) (Process, error) {
	switch backend {
	case domain.Claude:
		return claude.NewCLITask(cfg.ClaudeBinary, claude.ExecRun), nil
	case domain.Ollama:
		return ollama.NewGenerateTaskFromEnvironment()
	default:
		return nil, fmt.Errorf("backend %q: %w", backend, errval.ErrInvalidBackend)
	}
}
