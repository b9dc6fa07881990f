package align

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk configuration for the vecalign command.
type FileConfig struct {
	Alignment  Config           `yaml:"alignment" json:"alignment"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Output     OutputConfig     `yaml:"output" json:"output"`
	MQTT       MQTTConfig       `yaml:"mqtt" json:"mqtt"`
}

// EmbeddingsConfig names the input files.
type EmbeddingsConfig struct {
	Source         string `yaml:"source" json:"source"`
	Target         string `yaml:"target" json:"target"`
	MaxWords       int    `yaml:"maxWords,omitempty" json:"maxWords,omitempty"` // 0 reads every row
	SeedDictionary string `yaml:"seedDictionary,omitempty" json:"seedDictionary,omitempty"`
}

// OutputConfig controls where results are written.
type OutputConfig struct {
	Path string `yaml:"path" json:"path"` // codec chosen by extension
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// DefaultResultPath is used when neither the config nor the CLI names an output.
const DefaultResultPath = "vecalign-result.json.zst"

// DefaultFileConfig returns a config with alignment defaults and no inputs.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		Alignment: DefaultConfig(),
		Output:    OutputConfig{Path: DefaultResultPath},
		MQTT:      MQTTConfig{PublishPrefix: "vecalign", ClientID: "vecalign"},
	}
}

// LoadConfig loads the configuration from a YAML file. Keys missing from the
// file keep their defaults.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultFileConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if config.Embeddings.MaxWords < 0 {
		return nil, fmt.Errorf("embeddings.maxWords must not be negative")
	}
	if err := config.Alignment.Validate(); err != nil {
		return nil, fmt.Errorf("alignment: %w", err)
	}

	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *FileConfig) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ValidateInputs reports missing embedding paths.
func (c *FileConfig) ValidateInputs() error {
	if c.Embeddings.Source == "" {
		return fmt.Errorf("embeddings.source is required")
	}
	if c.Embeddings.Target == "" {
		return fmt.Errorf("embeddings.target is required")
	}
	return nil
}

// ResolveMQTT applies MQTT_* environment overrides on top of the file values.
func (c *FileConfig) ResolveMQTT() MQTTConfig {
	m := c.MQTT
	override := func(dst *string, env string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	override(&m.Broker, "MQTT_BROKER")
	override(&m.ClientID, "MQTT_CLIENT_ID")
	override(&m.Username, "MQTT_USERNAME")
	override(&m.Password, "MQTT_PASSWORD")
	override(&m.PublishPrefix, "MQTT_PUBLISH_PREFIX")
	if m.ClientID == "" {
		m.ClientID = "vecalign"
	}
	if m.PublishPrefix == "" {
		m.PublishPrefix = "vecalign"
	}
	return m
}
