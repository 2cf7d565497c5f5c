package homeassistant

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultDiscoveryPrefix ist der Standard-Präfix von Home Assistant
	DefaultDiscoveryPrefix = "homeassistant"

	// ComponentSensor ist der Component-Typ für Sensoren
	ComponentSensor = "sensor"

	// NodeID für Facestore
	NodeID = "facestore"
)

// RetainPublisher veröffentlicht dauerhafte Nachrichten (z.B. der MQTT-Client)
type RetainPublisher interface {
	PublishRetain(topic string, payload interface{}) error
	Topic(suffix string) string
}

// SensorConfig ist die MQTT-Discovery-Konfiguration eines Sensors
type SensorConfig struct {
	Name                string  `json:"name"`
	UniqueID            string  `json:"unique_id"`
	StateTopic          string  `json:"state_topic"`
	Icon                string  `json:"icon,omitempty"`
	JSONAttributesTopic string  `json:"json_attributes_topic,omitempty"`
	ValueTemplate       string  `json:"value_template,omitempty"`
	AvailabilityTopic   string  `json:"availability_topic,omitempty"`
	PayloadAvailable    string  `json:"payload_available,omitempty"`
	PayloadNotAvailable string  `json:"payload_not_available,omitempty"`
	Device              *Device `json:"device,omitempty"`
}

// Device beschreibt das Gerät, unter dem die Sensoren gruppiert werden
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// DiscoveryManager meldet die Erkennungs-Sensoren bei Home Assistant an
type DiscoveryManager struct {
	publisher RetainPublisher
	prefix    string
}

// NewDiscoveryManager erstellt einen neuen Manager für Home Assistant Discovery
func NewDiscoveryManager(publisher RetainPublisher, discoveryPrefix string) *DiscoveryManager {
	prefix := strings.Trim(discoveryPrefix, "/")
	if prefix == "" {
		prefix = DefaultDiscoveryPrefix
	}
	return &DiscoveryManager{publisher: publisher, prefix: prefix}
}

func (dm *DiscoveryManager) device() *Device {
	return &Device{
		Identifiers:  []string{NodeID},
		Name:         "Facestore",
		Manufacturer: "Facestore",
		Model:        "Identity Store",
	}
}

// Sensors liefert die Discovery-Konfigurationen, indiziert nach Object-ID
func (dm *DiscoveryManager) Sensors() map[string]SensorConfig {
	device := dm.device()
	status := dm.publisher.Topic("status")

	return map[string]SensorConfig{
		"last_match": {
			Name:                "Facestore last match",
			UniqueID:            NodeID + "_last_match",
			StateTopic:          dm.publisher.Topic("match"),
			JSONAttributesTopic: dm.publisher.Topic("match"),
			ValueTemplate:       "{{ value_json.name }}",
			Icon:                "mdi:face-recognition",
			AvailabilityTopic:   status,
			PayloadAvailable:    "online",
			PayloadNotAvailable: "offline",
			Device:              device,
		},
		"last_unknown": {
			Name:                "Facestore last unknown face",
			UniqueID:            NodeID + "_last_unknown",
			StateTopic:          dm.publisher.Topic("unknown"),
			JSONAttributesTopic: dm.publisher.Topic("unknown"),
			ValueTemplate:       "{{ value_json.timestamp }}",
			Icon:                "mdi:account-question",
			AvailabilityTopic:   status,
			PayloadAvailable:    "online",
			PayloadNotAvailable: "offline",
			Device:              device,
		},
	}
}

// Register veröffentlicht alle Sensor-Konfigurationen mit Retain-Flag
func (dm *DiscoveryManager) Register() error {
	var failed []string
	for objectID, sensor := range dm.Sensors() {
		topic := fmt.Sprintf("%s/%s/%s/%s/config", dm.prefix, ComponentSensor, NodeID, objectID)
		log.Infof("Registering Home Assistant sensor %s", objectID)
		if err := dm.publisher.PublishRetain(topic, sensor); err != nil {
			log.Errorf("Failed to register Home Assistant sensor %s: %v", objectID, err)
			failed = append(failed, objectID)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to publish discovery configuration for %s", strings.Join(failed, ", "))
	}
	return nil
}
