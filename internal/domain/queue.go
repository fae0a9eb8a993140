package domain

type Queue interface {
	IsHealthy() bool
	PublishMessage(queueName, body string) error
	Close() error
}
