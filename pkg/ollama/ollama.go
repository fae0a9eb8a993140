package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ollama/ollama/api"
)

// GenerateTask generates text through a local Ollama server.
type GenerateTask struct {
	client *api.Client
}

func NewGenerateTask(client *api.Client) *GenerateTask {
	return &GenerateTask{client: client}
}

// NewGenerateTaskFromEnvironment connects to the server named by OLLAMA_HOST.
func NewGenerateTaskFromEnvironment() (*GenerateTask, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, err
	}

	return NewGenerateTask(client), nil
}

func (g *GenerateTask) Execute(ctx context.Context, query, model string) (output string, err error) {
	stream := false
	req := &api.GenerateRequest{
		Model:  model,
		Prompt: query,
		Stream: &stream,
	}

	var b strings.Builder
	err = g.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		b.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate with model %s: %w", model, err)
	}

	output = strings.TrimSpace(b.String())
	if output == "" {
		return "", fmt.Errorf("ollama model %s returned no output", model)
	}

	slog.Debug("Ollama generation finished", "model", model, "output_len", len(output))
	return output, nil
}

// Ping checks that the Ollama server is reachable.
func (g *GenerateTask) Ping(ctx context.Context) error {
	return g.client.Heartbeat(ctx)
}
