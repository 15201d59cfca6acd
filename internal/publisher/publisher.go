package publisher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"amberbalance/internal/config"
	"amberbalance/pkg/models"
)

// Publisher pushes billing-cycle payloads to Home Assistant, over MQTT or
// the HA HTTP API (or both).
type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	haConfig    config.HAConfig
	httpClient  *http.Client
}

// New creates a new publisher (supports both MQTT and HA HTTP API)
func New(mqttCfg config.MQTTConfig, haCfg config.HAConfig) (*Publisher, error) {
	// Validate HA config if enabled
	if haCfg.Enabled {
		if haCfg.URL == "" {
			return nil, fmt.Errorf("Home Assistant URL is required when enabled")
		}
		if haCfg.Token == "" {
			return nil, fmt.Errorf("Home Assistant token is required when enabled")
		}
		if haCfg.EntityID == "" {
			return nil, fmt.Errorf("Home Assistant entity_id is required when enabled")
		}
	}

	var client mqtt.Client
	var topicPrefix string

	if mqttCfg.Enabled {
		if mqttCfg.Broker == "" {
			return nil, fmt.Errorf("MQTT broker address is required when enabled")
		}

		topicPrefix = mqttCfg.TopicPrefix
		if topicPrefix == "" {
			topicPrefix = "amber_balance"
		}

		opts := mqtt.NewClientOptions()
		opts.AddBroker(fmt.Sprintf("tcp://%s", mqttCfg.Broker))
		// Unique client id so two instances don't evict each other's session
		opts.SetClientID("amberbalance-" + uuid.NewString()[:8])
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)
		opts.SetConnectTimeout(10 * time.Second)

		if mqttCfg.Username != "" {
			opts.SetUsername(mqttCfg.Username)
		}
		if mqttCfg.Password != "" {
			opts.SetPassword(mqttCfg.Password)
		}

		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
		}
	}

	return &Publisher{
		client:      client,
		topicPrefix: topicPrefix,
		haConfig:    haCfg,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Publish sends the payload everywhere that is enabled. updatedAt is when the
// refresh that produced the payload completed, so consumers can detect a
// stale reading being re-served after upstream failures.
func (p *Publisher) Publish(payload *models.Payload, updatedAt time.Time) error {
	if p.client != nil {
		if err := p.publishMQTT(payload); err != nil {
			return err
		}
	}
	if p.haConfig.Enabled {
		if err := p.publishHA(payload, updatedAt); err != nil {
			return err
		}
	}
	return nil
}

// publishMQTT publishes the full payload and the headline position as
// retained messages, so subscribers see the latest state immediately on
// connect.
func (p *Publisher) publishMQTT(payload *models.Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	balanceTopic := fmt.Sprintf("%s/%s/balance", p.topicPrefix, payload.SiteID)
	if token := p.client.Publish(balanceTopic, 0, true, body); token.Wait() && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", balanceTopic, token.Error())
	}

	positionTopic := fmt.Sprintf("%s/%s/position", p.topicPrefix, payload.SiteID)
	position := fmt.Sprintf("%.2f", decimalToFloat(payload.Totals.Position))
	if token := p.client.Publish(positionTopic, 0, true, []byte(position)); token.Wait() && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", positionTopic, token.Error())
	}

	return nil
}

// haState matches the Home Assistant states API request body.
type haState struct {
	State      string          `json:"state"`
	Attributes json.RawMessage `json:"attributes"`
}

// publishHA sets the entity state to the cycle position with the full totals
// as attributes.
func (p *Publisher) publishHA(payload *models.Payload, updatedAt time.Time) error {
	apiURL := fmt.Sprintf("%s/api/states/%s", p.haConfig.URL, p.haConfig.EntityID)

	totals, err := json.Marshal(payload.Totals)
	if err != nil {
		return fmt.Errorf("encoding totals: %w", err)
	}

	var attrs map[string]interface{}
	if err := json.Unmarshal(totals, &attrs); err != nil {
		return fmt.Errorf("decoding totals: %w", err)
	}
	attrs["site_id"] = payload.SiteID
	attrs["range_start"] = payload.RangeStart.String()
	attrs["range_end"] = payload.RangeEnd.String()
	attrs["last_updated"] = updatedAt.Format(time.RFC3339)
	attrs["unit_of_measurement"] = "AUD"

	attrBody, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encoding attributes: %w", err)
	}

	body, err := json.Marshal(haState{
		State:      fmt.Sprintf("%.2f", decimalToFloat(payload.Totals.Position)),
		Attributes: attrBody,
	})
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	req, err := http.NewRequest("POST", apiURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.haConfig.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP error: status %d, response: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

func decimalToFloat(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
