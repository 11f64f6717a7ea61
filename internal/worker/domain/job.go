package domain

// JobMessage represents a job message from RabbitMQ
type JobMessage struct {
	JobID       string `json:"job_id"`
	Tag         string `json:"tag"`
	DeliveryTag uint64 `json:"-"`
}
