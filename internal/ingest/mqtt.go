// Package ingest receives bus telemetry published by the on-board devices over MQTT.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"bus-tracking-backend/config"
	"bus-tracking-backend/internal/model"
	"bus-tracking-backend/internal/parse"
)

const handlerTimeout = 10 * time.Second

// LocationUpdater stores the last position of a bus.
type LocationUpdater interface {
	UpdateBusLocation(ctx context.Context, busID int64, loc model.Location, at time.Time) error
}

// SignalRecorder records a boarding signal.
type SignalRecorder interface {
	RecordStudentSignal(ctx context.Context, busID int64, studentID *int64, raw string) (*model.Event, error)
}

type locationMessage struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type signalMessage struct {
	EventType string `json:"event_type"`
	StudentID *int64 `json:"student_id"`
}

// Subscriber routes device messages to the store and the events service.
type Subscriber struct {
	cfg       config.MQTTConfig
	client    mqtt.Client
	locations LocationUpdater
	signals   SignalRecorder
	now       func() time.Time
}

// NewSubscriber prepares a client for the configured broker. Call Connect to start receiving.
func NewSubscriber(cfg config.MQTTConfig, locations LocationUpdater, signals SignalRecorder) *Subscriber {
	s := &Subscriber{cfg: cfg, locations: locations, signals: signals, now: time.Now}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	// Unique client id so replicas do not kick each other off the broker.
	opts.SetClientID(fmt.Sprintf("%s-%s", cfg.ClientID, uuid.New().String()[:8]))
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("[MQTT] connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Printf("[MQTT] connected to %s", cfg.BrokerURL)
		if err := s.subscribe(c); err != nil {
			log.Printf("[MQTT] %v", err)
		}
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Println("[MQTT] reconnecting...")
	})
	s.client = mqtt.NewClient(opts)
	return s
}

// Connect dials the broker. Subscriptions are (re)established on every connect.
func (s *Subscriber) Connect(timeout time.Duration) error {
	token := s.client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("[MQTT] timed out connecting to %s", s.cfg.BrokerURL)
	}
	return token.Error()
}

func (s *Subscriber) Disconnect() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

func (s *Subscriber) topics() map[string]mqtt.MessageHandler {
	return map[string]mqtt.MessageHandler{
		s.cfg.TopicPrefix + "/+/location": s.handleLocation,
		s.cfg.TopicPrefix + "/+/signal":   s.handleSignal,
	}
}

func (s *Subscriber) subscribe(c mqtt.Client) error {
	for topic, handler := range s.topics() {
		if token := c.Subscribe(topic, s.cfg.QoS, handler); token.Wait() && token.Error() != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
		}
		log.Printf("[MQTT] subscribed to %s", topic)
	}
	return nil
}

// busIDFromTopic extracts the id from "<prefix>/<id>/<kind>".
func busIDFromTopic(topic string) (int64, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return 0, fmt.Errorf("unexpected topic %q", topic)
	}
	id, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("unexpected bus id in topic %q", topic)
	}
	return id, nil
}

// parseLocationPayload accepts {"latitude":..,"longitude":..} or a plain "lat,lng".
func parseLocationPayload(payload []byte) (model.Location, error) {
	var msg locationMessage
	if err := json.Unmarshal(payload, &msg); err == nil {
		if msg.Latitude == nil || msg.Longitude == nil {
			return model.Location{}, fmt.Errorf("%w: missing coordinates", parse.ErrInvalidLocation)
		}
		loc := model.Location{Latitude: *msg.Latitude, Longitude: *msg.Longitude}
		if !loc.Valid() {
			return model.Location{}, fmt.Errorf("%w: %s", parse.ErrInvalidLocation, loc)
		}
		return loc, nil
	}
	return parse.ParseLocation(string(payload))
}

func (s *Subscriber) handleLocation(_ mqtt.Client, msg mqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[MQTT] panic handling %s: %v", msg.Topic(), r)
		}
	}()

	busID, err := busIDFromTopic(msg.Topic())
	if err != nil {
		log.Printf("[MQTT] %v", err)
		return
	}
	loc, err := parseLocationPayload(msg.Payload())
	if err != nil {
		log.Printf("[MQTT] dropping location for bus %d: %v", busID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := s.locations.UpdateBusLocation(ctx, busID, loc, s.now()); err != nil {
		log.Printf("[MQTT] %v", err)
	}
}

func (s *Subscriber) handleSignal(_ mqtt.Client, msg mqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[MQTT] panic handling %s: %v", msg.Topic(), r)
		}
	}()

	busID, err := busIDFromTopic(msg.Topic())
	if err != nil {
		log.Printf("[MQTT] %v", err)
		return
	}
	var sig signalMessage
	if err := json.Unmarshal(msg.Payload(), &sig); err != nil {
		log.Printf("[MQTT] dropping signal for bus %d: %v", busID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	event, err := s.signals.RecordStudentSignal(ctx, busID, sig.StudentID, sig.EventType)
	if err != nil {
		log.Printf("[MQTT] signal for bus %d rejected: %v", busID, err)
		return
	}
	log.Printf("[MQTT] bus %d: recorded %s event %d", busID, event.Kind, event.ID)
}
