// Package readiness checks the external preconditions an integrator waits
// for before submitting connectors.
package readiness

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/canonical/kafkacl/pkg/errors"
	"go.uber.org/zap"
)

// KafkaConfig configures a KafkaChecker
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	DialTimeout time.Duration
	ClientID    string
}

// KafkaChecker reports whether the Kafka brokers are reachable and, when a
// topic is configured, whether the topic exists.
type KafkaChecker struct {
	config KafkaConfig
	logger *zap.Logger

	// newClient is replaced in tests
	newClient func(addrs []string, conf *sarama.Config) (sarama.Client, error)
}

// NewKafkaChecker creates a checker
func NewKafkaChecker(cfg KafkaConfig, logger *zap.Logger) *KafkaChecker {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "kafkacl"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaChecker{
		config:    cfg,
		logger:    logger.With(zap.String("component", "kafka_readiness")),
		newClient: sarama.NewClient,
	}
}

// buildSaramaConfig builds a metadata-only client configuration
func (p *KafkaChecker) buildSaramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = p.config.ClientID
	config.Net.DialTimeout = p.config.DialTimeout
	config.Net.ReadTimeout = p.config.DialTimeout
	config.Net.WriteTimeout = p.config.DialTimeout
	config.Metadata.Retry.Max = 0
	config.Metadata.Full = false
	return config
}

// Check returns nil when the brokers answer and the topic, if any, exists.
func (p *KafkaChecker) Check(ctx context.Context) error {
	if len(p.config.Brokers) == 0 {
		return errors.New(errors.ErrorTypeConfig, "no kafka brokers configured")
	}

	type result struct{ err error }
	done := make(chan result, 1)
	go func() { done <- result{err: p.check()} }()

	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "kafka readiness check aborted")
	case r := <-done:
		return r.err
	}
}

func (p *KafkaChecker) check() error {
	client, err := p.newClient(p.config.Brokers, p.buildSaramaConfig())
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "kafka brokers unreachable").
			WithDetail("brokers", p.config.Brokers)
	}
	defer func() {
		if err := client.Close(); err != nil {
			p.logger.Debug("failed to close kafka client", zap.Error(err))
		}
	}()

	if len(client.Brokers()) == 0 {
		return errors.New(errors.ErrorTypeConnection, "kafka cluster reports no brokers")
	}
	if p.config.Topic == "" {
		return nil
	}

	topics, err := client.Topics()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to list kafka topics")
	}
	for _, t := range topics {
		if t == p.config.Topic {
			return nil
		}
	}
	return errors.New(errors.ErrorTypeNotFound, "kafka topic does not exist").
		WithDetail("topic", p.config.Topic)
}

// Ready is Check reduced to a boolean, logging the reason for a false answer.
func (p *KafkaChecker) Ready(ctx context.Context) bool {
	if err := p.Check(ctx); err != nil {
		p.logger.Info("kafka is not ready", zap.Error(err))
		return false
	}
	return true
}
