package domain

import "time"

// TaskStatusChangeHistory is one lifecycle transition. OldStatus is empty for
// the initial submission.
type TaskStatusChangeHistory struct {
	ID             int64       `json:"-"`
	TaskID         string      `json:"task_id"`
	Model          string      `json:"model"`
	OldStatus      TaskStatus  `json:"old_status"`
	NewStatus      TaskStatus  `json:"new_status"`
	Result         *TaskResult `json:"result,omitempty"`
	CreatedAt      time.Time   `json:"-"`
	CreatedAtStamp int64       `json:"created_at_stamp"`
}
