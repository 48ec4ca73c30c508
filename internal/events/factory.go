package events

import (
	"fmt"
	"log/slog"

	"cms-go/internal/config"
)

// NewPublisherFromConfig creates a Publisher based on the events config type.
func NewPublisherFromConfig(cfg config.EventsConfig, logger *slog.Logger) (Publisher, error) {
	switch cfg.Type {
	case "", "none":
		return Nop{}, nil
	case "rabbitmq":
		if cfg.URL == "" {
			return nil, fmt.Errorf("rabbitmq events require url to be set")
		}
		exchange := cfg.Exchange
		if exchange == "" {
			exchange = "cms"
		}
		routingKey := cfg.RoutingKey
		if routingKey == "" {
			routingKey = "version.saved"
		}
		queue := cfg.Queue
		if queue == "" {
			queue = "cms.versions"
		}
		return NewRabbitMQ(RabbitMQConfig{
			URL:        cfg.URL,
			Exchange:   exchange,
			RoutingKey: routingKey,
			QueueName:  queue,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown events type: %s", cfg.Type)
	}
}
