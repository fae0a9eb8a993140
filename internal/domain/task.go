package domain

import (
	"fmt"
	"strings"
	"time"
)

type TaskStatus string

const (
	Queued     TaskStatus = "queued"
	Processing TaskStatus = "processing"
	Completed  TaskStatus = "completed"
	Failed     TaskStatus = "failed"
)

// IsTerminal reports whether no further transition is possible from s.
func (s TaskStatus) IsTerminal() bool {
	return s == Completed || s == Failed
}

type Backend string

const (
	Claude Backend = "claude"
	Ollama Backend = "ollama"
)

// TaskResult is what the processing loop reports through Complete.
type TaskResult struct {
	Status         TaskStatus `json:"status"`
	Result         string     `json:"result,omitempty"`
	Error          string     `json:"error,omitempty"`
	FullResultPath string     `json:"full_result_path,omitempty"`
}

// TaskHandle is the part of a task handed to a processing loop on dispatch.
type TaskHandle struct {
	ID    string `json:"id"`
	Query string `json:"query"`
	Model string `json:"model"`
}

// TaskSnapshot is a point-in-time copy of a task record.
type TaskSnapshot struct {
	ID            string      `json:"id"`
	Status        TaskStatus  `json:"status"`
	Model         string      `json:"model"`
	SubmittedAt   time.Time   `json:"submitted_at"`
	StartedAt     *time.Time  `json:"started_at"`
	CompletedAt   *time.Time  `json:"completed_at"`
	QueuePosition *int        `json:"queue_position"`
	Result        *TaskResult `json:"result"`
}

// SubmitReceipt is returned to the caller of Submit.
type SubmitReceipt struct {
	TaskID               string    `json:"task_id"`
	QueuePosition        int       `json:"queue_position"`
	EstimatedWaitSeconds int       `json:"estimated_wait_seconds"`
	EstimatedStart       time.Time `json:"estimated_start"`
}

// LimiterConfig is the read-only view returned by Config.
type LimiterConfig struct {
	MaxRequests   int     `json:"max_requests"`
	WindowSeconds float64 `json:"window_seconds"`
	QueueLength   int     `json:"current_queue_length"`
	ActiveSlots   int     `json:"active_slots"`
	TotalTasks    int     `json:"total_tasks"`
	// NextReleaseAt is when the soonest held slot frees up, nil when none is held.
	NextReleaseAt *time.Time `json:"next_release_at,omitempty"`
}

// TaskOutput is a finished generation handed to a ResultStore.
type TaskOutput struct {
	TaskID      string
	Model       string
	Query       string
	Content     string
	CompletedAt time.Time
}

// Document renders the markdown every ResultStore hands back from LoadResult.
func (o TaskOutput) Document() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task %s\n\n", o.TaskID)
	fmt.Fprintf(&b, "- Model: %s\n", o.Model)
	fmt.Fprintf(&b, "- Completed: %s\n\n", o.CompletedAt.Format(time.RFC3339))
	b.WriteString("## Query\n\n")
	b.WriteString(o.Query)
	b.WriteString("\n\n## Response\n\n")
	b.WriteString(o.Content)
	b.WriteString("\n")
	return b.String()
}
