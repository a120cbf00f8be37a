// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/pdiddy/medscope/pkg/types"
)

// DefaultTopic is the topic prefix used when none is configured.
const DefaultTopic = "medscope/alerts/bias"

// publishTimeout bounds how long the background delivery check waits on a token.
const publishTimeout = 5 * time.Second

// Publisher is the subset of mqtt.Client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes alerts as JSON with QoS 0 to "<topic>/<severity>".
// Emit never waits for the broker; delivery failures are logged.
type MQTTSink struct {
	pub    Publisher
	client mqtt.Client
	topic  string
	log    *zap.Logger
	wg     sync.WaitGroup
}

// NewMQTTSink wraps an already connected publisher.
func NewMQTTSink(pub Publisher, topic string, log *zap.Logger) *MQTTSink {
	if topic == "" {
		topic = DefaultTopic
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MQTTSink{pub: pub, topic: strings.TrimSuffix(topic, "/"), log: log.Named("mqtt")}
}

// DialMQTT connects to the configured broker and returns a sink over it.
func DialMQTT(cfg types.AlertConfig, log *zap.Logger) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	clientID := cfg.MQTTClientID
	if clientID == "" {
		clientID = "medscope"
	}
	opts.SetClientID(clientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
	}
	if cfg.MQTTPassword != "" {
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", cfg.MQTTBroker, token.Error())
	}

	s := NewMQTTSink(client, cfg.MQTTTopic, log)
	s.client = client
	return s, nil
}

// Topic returns the topic an alert of the given severity is published to.
func (s *MQTTSink) Topic(sev types.Severity) string {
	return s.topic + "/" + strings.ToLower(string(sev))
}

// Emit publishes the alert without waiting for the broker.
func (s *MQTTSink) Emit(_ context.Context, a types.BiasAlert) {
	payload, err := json.Marshal(a)
	if err != nil {
		s.log.Error("encoding alert", zap.String("patient_id", a.PatientID), zap.Error(err))
		return
	}
	topic := s.Topic(a.Severity)
	token := s.pub.Publish(topic, 0, false, payload)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if !token.WaitTimeout(publishTimeout) {
			s.log.Warn("alert publish timed out", zap.String("topic", topic), zap.String("patient_id", a.PatientID))
			return
		}
		if err := token.Error(); err != nil {
			s.log.Warn("alert publish failed", zap.String("topic", topic), zap.String("patient_id", a.PatientID), zap.Error(err))
		}
	}()
}

// Close waits for pending delivery checks and disconnects a dialed client.
func (s *MQTTSink) Close() {
	s.wg.Wait()
	if s.client != nil {
		s.client.Disconnect(250)
	}
}
