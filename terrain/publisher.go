package terrain

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// UpdateMessage is published after every fused batch
type UpdateMessage struct {
	Source    string       `json:"source"`
	Report    UpdateReport `json:"report"`
	Timestamp int64        `json:"timestamp"`
}

// LayerMessage carries one full layer. It is published zlib-compressed.
type LayerMessage struct {
	Geometry  Geometry      `json:"geometry"`
	Rows      int           `json:"rows"`
	Cols      int           `json:"cols"`
	Layer     LayerSnapshot `json:"layer"`
	Timestamp int64         `json:"timestamp"`
}

// Publisher publishes map updates, summaries and layers to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool

	mu          sync.RWMutex
	lastSummary *MapSummary
}

// NewPublisher creates a new map publisher.
// The topic prefix comes from MQTT_PUBLISH_PREFIX, then prefix, then "terramesh".
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if env := os.Getenv("MQTT_PUBLISH_PREFIX"); env != "" {
		prefix = env
	}
	if prefix == "" {
		prefix = "terramesh"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true,
	}
}

// Prefix returns the topic prefix
func (p *Publisher) Prefix() string {
	return p.publishPrefix
}

// PublishUpdate publishes the report of one fused batch to {prefix}/{source}/update.
// Update reports are never retained.
func (p *Publisher) PublishUpdate(sourceID string, report UpdateReport) error {
	msg := UpdateMessage{Source: sourceID, Report: report, Timestamp: time.Now().Unix()}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling update report: %w", err)
	}
	return p.publish(fmt.Sprintf("%s/%s/update", p.publishPrefix, sourceID), false, payload)
}

// PublishSummary publishes the map summary to {prefix}/summary, retained
func (p *Publisher) PublishSummary(summary MapSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	if err := p.publish(fmt.Sprintf("%s/summary", p.publishPrefix), p.retain, payload); err != nil {
		return err
	}

	p.mu.Lock()
	p.lastSummary = &summary
	p.mu.Unlock()
	return nil
}

// PublishLayer publishes one layer of m to {prefix}/layers/{name}
func (p *Publisher) PublishLayer(m *ElevationMap, l Layer) error {
	snap, ok := m.LayerSnapshot(l)
	if !ok {
		return fmt.Errorf("%w: %s is not allocated", ErrUnknownLayer, l)
	}
	var rows, cols int
	m.View(func(g *Grid) { rows, cols = g.Rows(), g.Cols() })

	msg := LayerMessage{
		Geometry:  m.Geometry(),
		Rows:      rows,
		Cols:      cols,
		Layer:     snap,
		Timestamp: time.Now().Unix(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling layer %s: %w", l, err)
	}
	payload, err := deflateZlib(data)
	if err != nil {
		return err
	}
	return p.publish(fmt.Sprintf("%s/layers/%s", p.publishPrefix, l), p.retain, payload)
}

// LastSummary returns the last summary that was published successfully
func (p *Publisher) LastSummary() (MapSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastSummary == nil {
		return MapSummary{}, false
	}
	return *p.lastSummary, true
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether summaries and layers are retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}

func (p *Publisher) publish(topic string, retain bool, payload []byte) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	tracef("published %d bytes to %s", len(payload), topic)
	return nil
}
