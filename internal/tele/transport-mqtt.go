package tele

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"kitchen-print/internal/connection"
)

type transportMqtt struct {
	log     *zap.Logger
	m       mqtt.Client
	timeout time.Duration
	stopCh  chan struct{}
	once    sync.Once
}

func newTransportMqtt(cfg Config, log *zap.Logger) (*transportMqtt, error) {
	stdLog := zap.NewStdLog(log.Named("mqtt"))
	mqtt.CRITICAL = stdLog
	mqtt.ERROR = stdLog
	mqtt.WARN = stdLog
	if cfg.LogDebug {
		mqtt.DEBUG = stdLog
	}

	timeout := cfg.NetworkTimeout
	if timeout <= 0 {
		timeout = DefaultNetworkTimeout
	}
	if timeout < time.Second {
		timeout = time.Second
	}
	clientID := cfg.ClientID
	if clientID == "" {
		host, _ := os.Hostname()
		clientID = fmt.Sprintf("kitchen-print-%s", host)
	}

	will, err := json.Marshal(connection.Event{State: connection.Disconnected, Err: "offline"})
	if err != nil {
		return nil, errors.Trace(err)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetAutoReconnect(true).
		SetBinaryWill(TopicState(cfg.TopicPrefix), will, 1, true).
		SetCleanSession(true).
		SetClientID(clientID).
		SetConnectTimeout(timeout * 3).
		SetKeepAlive(timeout / 2).
		SetMaxReconnectInterval(timeout * 3).
		SetPingTimeout(timeout).
		SetWriteTimeout(timeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	t := &transportMqtt{
		log:     log.Named("mqtt"),
		m:       mqtt.NewClient(opts),
		timeout: timeout,
		stopCh:  make(chan struct{}),
	}
	go t.online()
	return t, nil
}

func (t *transportMqtt) online() {
	for t.isRunning() {
		if t.tokenWait(t.m.Connect(), "connect") == nil {
			t.log.Info("connected")
			return
		}
		select {
		case <-t.stopCh:
			return
		case <-time.After(time.Second):
		}
	}
}

func (t *transportMqtt) isRunning() bool {
	select {
	case <-t.stopCh:
		return false
	default:
		return true
	}
}

func (t *transportMqtt) Publish(topic string, retained bool, payload []byte) error {
	if !t.m.IsConnected() {
		return errors.Errorf("publish %s: not connected", topic)
	}
	return t.tokenWait(t.m.Publish(topic, 1, retained, payload), "publish "+topic)
}

func (t *transportMqtt) Close() {
	t.once.Do(func() {
		close(t.stopCh)
		if t.m.IsConnected() {
			t.m.Disconnect(uint(t.timeout / time.Millisecond))
		}
	})
}

func (t *transportMqtt) tokenWait(tok mqtt.Token, tag string) error {
	if !tok.WaitTimeout(t.timeout) {
		return errors.Errorf("%s timeout", tag)
	}
	return errors.Annotate(tok.Error(), tag)
}
