package terrain

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// BatchHandler is called when a point batch message is received.
// batch is only meaningful when err is nil.
type BatchHandler func(sourceID string, batch Batch, err error)

// MQTTClient manages the MQTT connection and the source subscriptions
type MQTTClient struct {
	client       mqtt.Client
	config       *Config
	batchHandler BatchHandler
	isConnected  bool
	mu           sync.RWMutex
}

// InitMQTT initializes an MQTT client with the provided configuration.
// If neither MQTT_BROKER nor mqtt.broker is set, MQTT is disabled and this
// returns nil.
func InitMQTT(config *Config, handler BatchHandler) (*MQTTClient, error) {

	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || len(config.Sources) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no sources configured")
	}

	client := &MQTTClient{
		config:       config,
		batchHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "terramesh"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	// Batches must be fused in arrival order
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to every configured source topic
func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("MQTT connected, subscribing to source topics...")
	c.setConnected(true)

	for _, source := range c.config.Sources {
		if source.Topic == "" {
			log.Printf("Warning: source %s has no topic configured", source.ID)
			continue
		}

		log.Printf("Subscribing to %s for source %s", source.Topic, source.ID)
		token := client.Subscribe(source.Topic, 0, c.createMessageHandler(source))

		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("Error subscribing to %s: %v", source.Topic, token.Error())
		} else {
			log.Printf("Successfully subscribed to %s", source.Topic)
		}
	}
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting...")
}

// createMessageHandler decodes payloads from one source. Payloads without
// a frame get the source's frame, falling back to the map frame.
func (c *MQTTClient) createMessageHandler(source SourceConfig) mqtt.MessageHandler {
	frame := source.Frame
	if frame == "" {
		frame = c.config.Map.Frame
	}
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		tracef("received batch for %s (topic: %s, size: %d bytes)", source.ID, msg.Topic(), len(payload))

		batch, err := DecodeBatch(payload, frame)
		if err != nil {
			log.Printf("Error decoding batch for %s: %v", source.ID, err)
		}
		if c.batchHandler != nil {
			c.batchHandler(source.ID, batch, err)
		}
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("Disconnecting from MQTT broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetSourceByTopic returns the source ID for a given topic
func (c *MQTTClient) GetSourceByTopic(topic string) (string, bool) {
	for _, source := range c.config.Sources {
		if source.Topic == topic {
			return source.ID, true
		}
	}
	return "", false
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// NewMQTTClientWithClient wraps an existing mqtt.Client, such as a test double
func NewMQTTClientWithClient(client mqtt.Client, config *Config, handler BatchHandler) *MQTTClient {
	return &MQTTClient{
		client:       client,
		config:       config,
		batchHandler: handler,
	}
}
