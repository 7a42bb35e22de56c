// Package events publishes domain events about rooms and rounds to
// downstream consumers (analytics, notifications).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wfunc/wordquiz/config"
	"github.com/wfunc/wordquiz/logger"
)

type Type string

const (
	RoomCreated     Type = "room.created"
	PlayerJoined    Type = "room.player_joined"
	PlayerLeft      Type = "room.player_left"
	PlayerKicked    Type = "room.player_kicked"
	HostChanged     Type = "room.host_changed"
	SettingsChanged Type = "room.settings_changed"
	GameStarted     Type = "game.started"
	GameRestarted   Type = "game.restarted"
	ReturnedToLobby Type = "game.returned_to_lobby"
	RoundClosed     Type = "round.closed"
	RoundAdvanced   Type = "round.advanced"
	GameFinished    Type = "game.finished"
	RoomDeleted     Type = "room.deleted"
)

type Event struct {
	ID       string         `json:"id"`
	Type     Type           `json:"type"`
	RoomID   string         `json:"roomId"`
	PlayerID string         `json:"playerId,omitempty"`
	At       time.Time      `json:"at"`
	Data     map[string]any `json:"data,omitempty"`
}

// New stamps an event with a fresh id and time.
func New(t Type, roomID, playerID string, data map[string]any) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     t,
		RoomID:   roomID,
		PlayerID: playerID,
		At:       time.Now().UTC(),
		Data:     data,
	}
}

// Publisher is best effort: callers log failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// Emit publishes ev and logs instead of failing.
func Emit(ctx context.Context, p Publisher, ev Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		logger.Log.Warnf("publish %s for room %s failed: %v", ev.Type, ev.RoomID, err)
	}
}

// RabbitMQPublisher sends JSON events to a durable queue.
type RabbitMQPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	mu      sync.Mutex
}

func NewRabbitMQPublisher(cfg config.RabbitMQConfig) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &RabbitMQPublisher{conn: conn, channel: channel, queue: cfg.Queue}, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.channel.PublishWithContext(
		ctx,
		"",      // exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.ID,
			Type:         string(ev.Type),
			Body:         body,
			Timestamp:    ev.At,
		},
	)
}

func (p *RabbitMQPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Recorder keeps published events in memory; tests and the rpc admin
// view use it to inspect recent activity.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of what was recorded, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists recorded event types, oldest first.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// Fanout publishes to several publishers.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f Fanout) Close() error {
	var first error
	for _, p := range f {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
