/* Copyright 2023 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig follows mosquitto_sub's options (more or less).
type MQTTConfig struct {
	Broker    string `yaml:"broker"`
	ClientId  string `yaml:"clientId"`
	KeepAlive int    `yaml:"keepAlive"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Reconnect bool   `yaml:"reconnect"`
	Clean     bool   `yaml:"clean"`
	Insecure  bool   `yaml:"insecure"`
	QoS       byte   `yaml:"qos"`
	Retain    bool   `yaml:"retain"`

	// Prefix starts every topic.  Events go to
	// PREFIX/ROSTER/ITEM.  Operations are heard on PREFIX/ctl,
	// and results go to PREFIX/ctl/reply.
	Prefix string `yaml:"prefix"`

	// Quiesce is the disconnection quiescence in milliseconds.
	Quiesce uint `yaml:"quiesce"`
}

// DefaultMQTTConfig has the defaults.
var DefaultMQTTConfig = MQTTConfig{
	Broker:    "tcp://localhost:1883",
	KeepAlive: 10,
	Clean:     true,
	Prefix:    "pulse",
	Quiesce:   100,
}

// MQTTPublisher sends Events to an MQTT broker and takes SOps from
// it.
type MQTTPublisher struct {
	Client mqtt.Client
	Config MQTTConfig

	hook uint64
}

// NewMQTTPublisher makes (but doesn't connect) a publisher.
func NewMQTTPublisher(cfg MQTTConfig) *MQTTPublisher {
	mqtt.ERROR = log.New(os.Stderr, "mqtt.error ", 0)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientId)
	opts.SetKeepAlive(time.Second * time.Duration(cfg.KeepAlive))
	opts.Username = cfg.Username
	opts.Password = cfg.Password
	opts.AutoReconnect = cfg.Reconnect
	opts.CleanSession = cfg.Clean
	opts.SetTLSConfig(&tls.Config{
		InsecureSkipVerify: cfg.Insecure,
	})
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v", err)
	}

	return &MQTTPublisher{
		Client: mqtt.NewClient(opts),
		Config: cfg,
	}
}

// Topic gives the topic for an Event.
func (p *MQTTPublisher) Topic(e *Event) string {
	return fmt.Sprintf("%s/%s/%s", p.Config.Prefix, e.Roster, e.Item)
}

func (p *MQTTPublisher) ctlTopic() string {
	return p.Config.Prefix + "/ctl"
}

func (p *MQTTPublisher) publish(topic string, x interface{}) {
	js, err := json.Marshal(x)
	if err != nil {
		log.Printf("MQTTPublisher Marshal error %v on %#v", err, x)
		return
	}
	t := p.Client.Publish(topic, p.Config.QoS, p.Config.Retain, js)
	go func() {
		if t.Wait() && t.Error() != nil {
			log.Printf("MQTTPublisher publish to %s error %v", topic, t.Error())
		}
	}()
}

// Publish sends the Event to its topic.
func (p *MQTTPublisher) Publish(e *Event) {
	p.publish(p.Topic(e), e)
}

// Start connects to the broker, subscribes to the control topic, and
// starts forwarding the service's Events.
func (p *MQTTPublisher) Start(ctx context.Context, s *Service) error {
	if t := p.Client.Connect(); t.Wait() && t.Error() != nil {
		return fmt.Errorf("MQTT connect to %s: %w", p.Config.Broker, t.Error())
	}

	handler := func(client mqtt.Client, msg mqtt.Message) {
		p.Handle(ctx, s, msg.Payload())
	}
	if t := p.Client.Subscribe(p.ctlTopic(), p.Config.QoS, handler); t.Wait() && t.Error() != nil {
		return fmt.Errorf("MQTT subscribe to %s: %w", p.ctlTopic(), t.Error())
	}

	p.hook = s.Subs.Add(AllRosters, p.Publish)

	log.Printf("MQTTPublisher connected to %s", p.Config.Broker)

	return nil
}

// Handle processes an SOp that arrived on the control topic and
// publishes the result.
func (p *MQTTPublisher) Handle(ctx context.Context, s *Service, payload []byte) {
	op, err := ParseOp(payload)
	if err != nil {
		op = &SOp{}
		op.Error, op.Err = erred(err)
	} else if err = op.Do(ctx, s); err != nil {
		log.Printf("MQTTPublisher op error %v", err)
	}
	p.publish(p.ctlTopic()+"/reply", op)
}

// Stop stops forwarding Events and disconnects.
func (p *MQTTPublisher) Stop(s *Service) {
	s.Subs.Rem(p.hook)
	p.Client.Disconnect(p.Config.Quiesce)
}
