package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sergiogordon/unitymdm-prod-sub004/internal/model"
)

// Transport delivers one payload to one device over a push channel.
// Delivery is best-effort and at-most-once per call; the batcher owns
// retries.
type Transport interface {
	Name() string
	Send(ctx context.Context, device model.Device, payload string) error
}

// Per-device send failure reasons. ErrNoChannel and ErrRejected are
// permanent for a given attempt and are not retried; ErrUnreachable is
// transient and retried with backoff.
var (
	ErrNoChannel   = errors.New("no registered channel")
	ErrRejected    = errors.New("transport rejected")
	ErrUnreachable = errors.New("transport unreachable")
)

func retryable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// FCMTransport wakes devices through an FCM-compatible HTTP endpoint using
// the device's registered push token.
type FCMTransport struct {
	endpoint  string
	serverKey string
	client    *http.Client
}

func NewFCMTransport(endpoint, serverKey string, timeout time.Duration) *FCMTransport {
	return &FCMTransport{
		endpoint:  endpoint,
		serverKey: serverKey,
		client:    &http.Client{Timeout: timeout},
	}
}

func (t *FCMTransport) Name() string { return "fcm" }

type fcmMessage struct {
	To   string          `json:"to"`
	Data json.RawMessage `json:"data"`
}

func (t *FCMTransport) Send(ctx context.Context, device model.Device, payload string) error {
	if device.PushToken == nil || *device.PushToken == "" {
		return fmt.Errorf("device %s: %w", device.ID, ErrNoChannel)
	}

	body, err := json.Marshal(fcmMessage{To: *device.PushToken, Data: json.RawMessage(payload)})
	if err != nil {
		return fmt.Errorf("encode push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+t.serverKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send to %s: %w", device.ID, ErrUnreachable)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("send to %s: status %d: %w", device.ID, resp.StatusCode, ErrRejected)
	default:
		return fmt.Errorf("send to %s: status %d: %w", device.ID, resp.StatusCode, ErrUnreachable)
	}
}

// MQTTTransport publishes command payloads to per-device topics on a broker
// the agents subscribe to.
type MQTTTransport struct {
	client  mqtt.Client
	timeout time.Duration
}

func NewMQTTTransport(broker, username, password string, timeout time.Duration) (*MQTTTransport, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetUsername(username).
		SetPassword(password).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("connect to broker %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", broker, err)
	}
	return &MQTTTransport{client: client, timeout: timeout}, nil
}

func (t *MQTTTransport) Name() string { return "mqtt" }

func (t *MQTTTransport) Send(ctx context.Context, device model.Device, payload string) error {
	topic := fmt.Sprintf("mdm/device/%s/commands", device.ID)
	token := t.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(t.timeout) {
		return fmt.Errorf("publish to %s: %w", topic, ErrUnreachable)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, ErrUnreachable)
	}
	return nil
}

func (t *MQTTTransport) Close() {
	t.client.Disconnect(250)
}
