package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"facestore/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// ErrNotConnected wird geliefert, wenn ohne Broker-Verbindung veröffentlicht wird
var ErrNotConnected = errors.New("MQTT client is not connected")

// Client veröffentlicht Erkennungsergebnisse an einen MQTT-Broker
type Client struct {
	config config.MQTTConfig
	client mqtt.Client
}

// NewClient erstellt einen neuen MQTT-Client
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{config: cfg}
}

// Start verbindet den Client mit dem Broker
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Infof("Connected to MQTT broker at %s", brokerURL)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Errorf("MQTT connection lost: %v", err)
	})

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	// Status-Topic, damit Abonnenten einen Ausfall erkennen
	opts.SetWill(c.Topic("status"), "offline", 1, true)

	c.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	if err := c.PublishRetain(c.Topic("status"), "online"); err != nil {
		log.Warnf("Failed to publish MQTT status: %v", err)
	}
	return nil
}

// Stop beendet den MQTT-Client
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		log.Info("Disconnecting MQTT client...")
		_ = c.PublishRetain(c.Topic("status"), "offline")
		c.client.Disconnect(250)
		log.Info("MQTT client disconnected")
	}
}

// IsConnected prüft, ob der Client verbunden ist
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Topic setzt den konfigurierten Präfix vor ein Untertopic
func (c *Client) Topic(suffix string) string {
	prefix := strings.TrimRight(c.config.TopicPrefix, "/")
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

// PublishMessage veröffentlicht eine Nachricht an ein MQTT-Topic
func (c *Client) PublishMessage(topic string, payload interface{}, retain bool) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	payloadBytes, err := encodePayload(payload)
	if err != nil {
		return err
	}

	token := c.client.Publish(topic, 1, retain, payloadBytes)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, token.Error())
	}

	log.Debugf("Published message to topic: %s", topic)
	return nil
}

// PublishRetain veröffentlicht eine Nachricht mit dem Retain-Flag
func (c *Client) PublishRetain(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, true)
}

// Publish veröffentlicht eine Nachricht ohne Retain-Flag
func (c *Client) Publish(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, false)
}

// encodePayload: Strings und Bytes unverändert, Zahlen/Bools als Text, sonst JSON
func encodePayload(payload interface{}) ([]byte, error) {
	switch p := payload.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		return []byte(fmt.Sprintf("%v", p)), nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload to JSON: %w", err)
		}
		return b, nil
	}
}
