// Package tileevents publishes one Kafka message per served tile.
package tileevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/vector-tile-cache/internal/core/model"
	"github.com/mohammed-shakir/vector-tile-cache/internal/core/observability"
	"github.com/mohammed-shakir/vector-tile-cache/internal/grid"
)

type Event struct {
	Tileset    string    `json:"tileset"`
	Z          int       `json:"z"`
	X          int       `json:"x"`
	Y          int       `json:"y"`
	Cache      string    `json:"cache"`
	DurationMS float64   `json:"duration_ms"`
	Dropped    []string  `json:"dropped_layers,omitempty"`
	Lon        float64   `json:"lon"`
	Lat        float64   `json:"lat"`
	Cell       string    `json:"h3_cell,omitempty"`
	TS         time.Time `json:"ts"`
}

// Sink accepts events without blocking the caller.
type Sink interface {
	Publish(ev Event)
}

type Nop struct{}

func (Nop) Publish(Event) {}

// Locator fills the geographic fields of an event from its tile address.
type Locator struct {
	Grid model.Grid
	Res  int
}

// Locate sets Lon, Lat and Cell to the tile centre. Grids other than
// EPSG:3857 and EPSG:4326 leave the event unchanged.
func (l Locator) Locate(ev *Event) {
	box, err := grid.BoundingBoxFor(l.Grid, ev.Z, ev.X, ev.Y)
	if err != nil {
		return
	}
	cx, cy := box.Center()
	var ll orb.Point
	switch l.Grid.SRID {
	case 3857:
		ll = project.Mercator.ToWGS84(orb.Point{cx, cy})
	case 4326:
		ll = orb.Point{cx, cy}
	default:
		return
	}
	ev.Lon, ev.Lat = ll.Lon(), ll.Lat()
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: ev.Lat, Lng: ev.Lon}, l.Res)
	if err != nil {
		return
	}
	ev.Cell = cell.String()
}

type Publisher struct {
	topic   string
	loc     *Locator
	log     *slog.Logger
	events  chan Event
	prod    sarama.AsyncProducer
	stopped chan struct{}
	drained chan struct{}
}

type Option func(*Publisher)

func WithLocator(l Locator) Option { return func(p *Publisher) { p.loc = &l } }

func WithLogger(l *slog.Logger) Option { return func(p *Publisher) { p.log = l } }

func NewPublisher(brokers []string, topic string, queueSize int, opts ...Option) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("tileevents: create async producer: %w", err)
	}
	return NewWithProducer(prod, topic, queueSize, opts...), nil
}

// NewWithProducer starts the publishing loop on an existing producer. The
// publisher owns prod and closes it in Close.
func NewWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, opts ...Option) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &Publisher{
		topic:   topic,
		log:     slog.Default(),
		events:  make(chan Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
		drained: make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			if p.loc != nil {
				p.loc.Locate(&ev)
			}
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Warn("tile event marshal failed", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Tileset + "/" + ev.Cell),
				Value: sarama.ByteEncoder(b),
			}
			observability.IncTileEvent("sent")
		}
	}()

	go func() {
		defer close(p.drained)
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncTileEvent("error")
				p.log.Warn("tile event producer error", "err", err)
			}
		}
	}()

	return p
}

// Publish enqueues ev; a full queue drops it.
func (p *Publisher) Publish(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	select {
	case p.events <- ev:
	default:
		observability.IncTileEvent("dropped")
	}
}

func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("tileevents: close producer: %w", err)
	}
	<-p.drained
	return nil
}
