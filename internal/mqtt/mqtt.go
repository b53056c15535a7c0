package mqtt

import (
	"encoding/json"

	"github.com/camkit/immis2tcp/internal/app"
	"github.com/camkit/immis2tcp/internal/proxy"
	"github.com/camkit/immis2tcp/pkg/immis"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Publishes session lifecycle events to the smart-home hub over MQTT.
// Disabled unless a broker is configured.
func Init() {
	var cfg struct {
		Mod struct {
			Broker   string `yaml:"broker"` // tcp://host:1883
			ClientID string `yaml:"client_id"`
			Username string `yaml:"username"`
			Password string `yaml:"password"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"mqtt"`
	}

	cfg.Mod.ClientID = "immis2tcp"
	cfg.Mod.Prefix = "immis2tcp"

	app.LoadConfig(&cfg)

	if cfg.Mod.Broker == "" {
		return
	}

	log = app.GetLogger("mqtt")

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Mod.Broker)
	opts.SetClientID(cfg.Mod.ClientID)
	opts.SetAutoReconnect(true)
	if cfg.Mod.Username != "" {
		opts.SetUsername(cfg.Mod.Username)
		opts.SetPassword(cfg.Mod.Password)
	}
	opts.SetOnConnectHandler(func(paho.Client) {
		log.Info().Str("broker", cfg.Mod.Broker).Msg("[mqtt] connected")
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Warn().Err(token.Error()).Msg("[mqtt] connect")
		return
	}

	prefix := cfg.Mod.Prefix
	proxy.Subscribe(func(camera string, ev immis.Event) {
		msg := eventMessage(ev)
		if msg == nil {
			return
		}
		msg.Camera = camera

		b, _ := json.Marshal(msg)
		client.Publish(prefix+"/"+camera, 0, false, b)
	})
}

var log zerolog.Logger

type message struct {
	Camera  string `json:"camera"`
	Event   string `json:"event"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
	Clients int    `json:"clients,omitempty"`
}

// eventMessage maps session events to hub payloads. Data is a firehose and
// stays off the bus.
func eventMessage(ev immis.Event) *message {
	switch ev.Type {
	case immis.EventReady:
		return &message{Event: "ready", URL: ev.URL}
	case immis.EventClosed:
		return &message{Event: "closed"}
	case immis.EventError:
		return &message{Event: "error", Error: ev.Err.Error()}
	case immis.EventReconnect:
		return &message{Event: "reconnect"}
	case immis.EventClients:
		return &message{Event: "clients", Clients: ev.Clients}
	}
	return nil
}
