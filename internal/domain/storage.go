package domain

import "context"

type Storage interface {
	Ping(ctx context.Context) (err error)
	InsertTaskStatusChange(ctx context.Context, change *TaskStatusChangeHistory) (err error)
	GetTaskStatusChangeHistory(ctx context.Context, taskID string) ([]*TaskStatusChangeHistory, error)
}

type ResultStore interface {
	Ping(ctx context.Context) (err error)
	SaveResult(ctx context.Context, output TaskOutput) (location string, err error)
	LoadResult(ctx context.Context, taskID string) (content string, err error)
}
