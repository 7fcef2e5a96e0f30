// Package stream subscribes to the ledger's push notifications. Ledger
// nodes publish a small envelope for every committed transaction on an MQTT
// topic; role nodes can listen to it instead of sleeping between poll
// passes.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/makar21/core-sub000/pkg/ledger"
)

const (
	committedTopic = "ledger/transactions/committed"

	connTimeout    = 10 * time.Second
	reconnInterval = time.Minute
	disconnQuiesce = 250
)

var (
	errSubscribeTimeout = errors.New("failed to subscribe due to timeout reached")
	errConnectTimeout   = errors.New("timeout reached while connecting to MQTT broker")
	errEmptyClientID    = errors.New("empty client ID")
)

// Event is the envelope published for every committed transaction.
type Event struct {
	TransactionID string           `json:"transaction_id"`
	AssetID       string           `json:"asset_id"`
	Operation     ledger.Operation `json:"operation"`
}

type Handler func(Event)

type Listener struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
	logger  *slog.Logger
}

func NewListener(address, clientID string, qos byte, timeout time.Duration, logger *slog.Logger) (*Listener, error) {
	if clientID == "" {
		return nil, errEmptyClientID
	}

	opts := mqtt.NewClientOptions().
		AddBroker(address).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(connTimeout).
		SetMaxReconnectInterval(reconnInterval)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("ledger stream connection established")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		args := []any{}
		if err != nil {
			args = append(args, slog.Any("error", err))
		}
		logger.Info("ledger stream connection lost", args...)
	})

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if token.Error() != nil {
		return nil, errors.Join(errors.New("failed to connect to MQTT broker"), token.Error())
	}
	if ok := token.WaitTimeout(timeout); !ok {
		return nil, errConnectTimeout
	}

	return &Listener{
		client:  client,
		qos:     qos,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Listen invokes handler for every committed-transaction envelope until the
// context is done.
func (l *Listener) Listen(ctx context.Context, handler Handler) error {
	token := l.client.Subscribe(committedTopic, l.qos, func(_ mqtt.Client, m mqtt.Message) {
		var ev Event
		if err := json.Unmarshal(m.Payload(), &ev); err != nil {
			l.logger.Warn(fmt.Sprintf("Failed to unmarshal ledger stream event: %s", err))

			return
		}

		handler(ev)
		m.Ack()
	})
	if token.Error() != nil {
		return token.Error()
	}
	if ok := token.WaitTimeout(l.timeout); !ok {
		return errSubscribeTimeout
	}

	<-ctx.Done()

	return nil
}

// Events subscribes and delivers envelopes on a channel. Envelopes are
// dropped when the receiver lags; the receiver polls the ledger anyway, a
// stream event only shortens the wait.
func (l *Listener) Events(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 64)

	token := l.client.Subscribe(committedTopic, l.qos, func(_ mqtt.Client, m mqtt.Message) {
		var ev Event
		if err := json.Unmarshal(m.Payload(), &ev); err != nil {
			l.logger.Warn(fmt.Sprintf("Failed to unmarshal ledger stream event: %s", err))

			return
		}

		select {
		case ch <- ev:
		case <-ctx.Done():
		default:
		}
		m.Ack()
	})
	if token.Error() != nil {
		return nil, token.Error()
	}
	if ok := token.WaitTimeout(l.timeout); !ok {
		return nil, errSubscribeTimeout
	}

	return ch, nil
}

func (l *Listener) Close(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		l.client.Disconnect(disconnQuiesce)

		return nil
	}
}
