package align

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mqttDialer builds the client; tests replace it.
var mqttDialer = func(opts *mqtt.ClientOptions) mqtt.Client {
	return mqtt.NewClient(opts)
}

// ConnectMQTT connects to cfg.Broker, retrying with exponential backoff until
// it succeeds or ctx ends. An empty broker disables MQTT: it returns (nil, nil).
func ConnectMQTT(ctx context.Context, cfg MQTTConfig, logger *Logger) (mqtt.Client, error) {
	if logger == nil {
		logger = NoopLogger()
	}
	logger = logger.WithComponent("mqtt")

	if cfg.Broker == "" {
		logger.InfoContext(ctx, "MQTT disabled: no broker configured")
		return nil, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "vecalign"
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// Connection settings
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("MQTT connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection interrupted, auto-reconnect will retry", "error", err)
	})

	client := mqttDialer(opts)
	if err := connectWithRetry(ctx, client, logger); err != nil {
		return nil, err
	}
	return client, nil
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func connectWithRetry(ctx context.Context, client mqtt.Client, logger *Logger) error {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		logger.InfoContext(ctx, "connecting to MQTT broker")

		token := client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				return nil
			}
			logger.WarnContext(ctx, "MQTT connection failed", "error", token.Error())
		} else {
			logger.WarnContext(ctx, "MQTT connection timeout")
		}

		logger.InfoContext(ctx, "retrying MQTT connection", "delay", retryDelay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("connecting to MQTT broker: %w", ctx.Err())
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}
