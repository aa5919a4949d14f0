// Package tele publishes printer state and job results over MQTT.
package tele

import (
	"context"
	"encoding/json"
	"time"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"kitchen-print/internal/connection"
	"kitchen-print/internal/queue"
)

const DefaultNetworkTimeout = 30 * time.Second

type Config struct {
	Broker         string        `mapstructure:"broker" json:"broker"`
	ClientID       string        `mapstructure:"client_id" json:"client_id"`
	Username       string        `mapstructure:"username" json:"username"`
	Password       string        `mapstructure:"password" json:"-"`
	TopicPrefix    string        `mapstructure:"topic_prefix" json:"topic_prefix"`
	NetworkTimeout time.Duration `mapstructure:"network_timeout" json:"network_timeout"`
	LogDebug       bool          `mapstructure:"log_debug" json:"log_debug"`
}

func TopicState(prefix string) string { return prefix + "/state" }
func TopicJobs(prefix string) string  { return prefix + "/jobs" }

// Publisher delivers one message
type Publisher interface {
	Publish(topic string, retained bool, payload []byte) error
	Close()
}

// Tele contract:
// - with no broker configured every call is a no-op
// - state messages are retained, job results are not
// - publish failures are logged, never returned to the printing path
type Tele struct {
	pub    Publisher
	prefix string
	log    *zap.Logger
}

// New connects to cfg.Broker in the background. An empty broker
// disables publishing.
func New(cfg Config, log *zap.Logger) (*Tele, error) {
	log = log.Named("tele")
	if cfg.Broker == "" {
		log.Info("no MQTT broker configured, telemetry disabled")
		return &Tele{log: log}, nil
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "kitchen-print"
	}
	pub, err := newTransportMqtt(cfg, log)
	if err != nil {
		return nil, errors.Annotate(err, "tele init")
	}
	return NewWithPublisher(pub, cfg.TopicPrefix, log), nil
}

func NewWithPublisher(pub Publisher, prefix string, log *zap.Logger) *Tele {
	return &Tele{pub: pub, prefix: prefix, log: log}
}

func (t *Tele) Enabled() bool { return t.pub != nil }

// State publishes a connection event as the retained state
func (t *Tele) State(e connection.Event) {
	t.send(TopicState(t.prefix), true, e)
}

// JobResult publishes the outcome of a print job
func (t *Tele) JobResult(r queue.Result) {
	t.send(TopicJobs(t.prefix), false, r)
}

// Watch publishes every event until ctx ends or events is closed
func (t *Tele) Watch(ctx context.Context, events <-chan connection.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			t.State(e)
		}
	}
}

func (t *Tele) send(topic string, retained bool, v interface{}) {
	if t.pub == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		t.log.Error("marshal message", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := t.pub.Publish(topic, retained, payload); err != nil {
		t.log.Warn("publish", zap.String("topic", topic), zap.Error(err))
	}
}

func (t *Tele) Close() {
	if t.pub != nil {
		t.pub.Close()
	}
}
