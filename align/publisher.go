package align

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultPublishPairs caps the pairs carried in a published result.
const DefaultPublishPairs = 100

// Publisher publishes alignment results to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	maxPairs      int
	last          map[string]string // name -> last published status
	mu            sync.RWMutex
}

// NewPublisher creates a result publisher. An empty prefix selects "vecalign".
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "vecalign"
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           1,
		retain:        true, // late subscribers get the latest result
		maxPairs:      DefaultPublishPairs,
		last:          make(map[string]string),
	}
}

// resultMessage is the retained summary on <prefix>/<name>/result.
type resultMessage struct {
	Name          string       `json:"name"`
	Status        string       `json:"status"`
	Iterations    int          `json:"iterations"`
	BestIteration int          `json:"bestIteration"`
	MatchedScore  float64      `json:"matchedScore"`
	MatchedCosine float64      `json:"matchedCosine"`
	Dimension     int          `json:"dimension"`
	TotalPairs    int          `json:"totalPairs"`
	Pairs         []RecordPair `json:"pairs"`
	Timestamp     int64        `json:"timestamp"`
}

// statusMessage is published on <prefix>/<name>/status.
type statusMessage struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// PublishResult publishes a summary of rec under name: the top pairs to
// <prefix>/<name>/result and the run status to <prefix>/<name>/status.
func (p *Publisher) PublishResult(name string, rec *ResultRecord) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	if name == "" {
		return fmt.Errorf("result name is required")
	}

	now := time.Now().Unix()
	result := resultMessage{
		Name:          name,
		Status:        rec.Status,
		Iterations:    rec.Iterations,
		BestIteration: rec.BestIteration,
		MatchedScore:  rec.MatchedScore,
		MatchedCosine: rec.MatchedCosine,
		Dimension:     rec.Dimension,
		TotalPairs:    len(rec.Pairs),
		Pairs:         rec.TopPairs(p.maxPairs),
		Timestamp:     now,
	}
	if err := p.publishJSON(fmt.Sprintf("%s/%s/result", p.publishPrefix, name), result); err != nil {
		return err
	}

	status := statusMessage{Status: rec.Status, Error: rec.Error, Timestamp: now}
	if err := p.publishJSON(fmt.Sprintf("%s/%s/status", p.publishPrefix, name), status); err != nil {
		return err
	}

	p.mu.Lock()
	p.last[name] = rec.Status
	p.mu.Unlock()
	return nil
}

// LastStatus returns the status last published under name.
func (p *Publisher) LastStatus(name string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.last[name]
	return s, ok
}

func (p *Publisher) publishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", topic, err)
	}
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}
