package tileevents

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/vector-tile-cache/internal/core/model"
)

func TestLocate_WebMercatorTileCentre(t *testing.T) {
	ev := Event{Tileset: "osm", Z: 10, X: 512, Y: 384}
	Locator{Grid: model.WebMercator(), Res: 7}.Locate(&ev)

	if math.Abs(ev.Lon-0.17578) > 1e-3 || math.Abs(ev.Lat-40.84706) > 1e-3 {
		t.Fatalf("centre=(%f,%f)", ev.Lon, ev.Lat)
	}
	want, err := h3.LatLngToCell(h3.LatLng{Lat: ev.Lat, Lng: ev.Lon}, 7)
	if err != nil {
		t.Fatalf("LatLngToCell: %v", err)
	}
	if ev.Cell != want.String() {
		t.Fatalf("cell=%s want %s", ev.Cell, want)
	}
}

func TestLocate_GeographicGridAndUnknownSRID(t *testing.T) {
	ev := Event{Z: 0, X: 1, Y: 0}
	Locator{Grid: model.WGS84(), Res: 3}.Locate(&ev)
	if ev.Lon != 90 || ev.Lat != 0 || ev.Cell == "" {
		t.Fatalf("got %+v", ev)
	}

	g := model.WGS84()
	g.SRID = 2154
	ev = Event{Z: 0, X: 0, Y: 0}
	Locator{Grid: g, Res: 3}.Locate(&ev)
	if ev.Cell != "" || ev.Lon != 0 {
		t.Fatalf("unknown CRS must not be located: %+v", ev)
	}
}

func TestPublisher_SendsKeyedJSON(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	prod.ExpectInputWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		if m.Topic != "tile-events" {
			return fmt.Errorf("topic %q", m.Topic)
		}
		b, err := m.Value.Encode()
		if err != nil {
			return err
		}
		var ev Event
		if err := json.Unmarshal(b, &ev); err != nil {
			return err
		}
		if ev.Tileset != "osm" || ev.Cache != "miss" || ev.Cell == "" || ev.TS.IsZero() {
			return fmt.Errorf("event %+v", ev)
		}
		k, _ := m.Key.Encode()
		if string(k) != "osm/"+ev.Cell {
			return fmt.Errorf("key %q", k)
		}
		return nil
	})

	p := NewWithProducer(prod, "tile-events", 4,
		WithLocator(Locator{Grid: model.WebMercator(), Res: 5}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	p.Publish(Event{Tileset: "osm", Z: 3, X: 4, Y: 2, Cache: "miss"})
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPublisher_ProducerErrorsAreAbsorbed(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	prod.ExpectInputAndFail(errors.New("broker down"))

	p := NewWithProducer(prod, "tile-events", 4, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	p.Publish(Event{Tileset: "osm", Cache: "hit"})
	_ = p.Close()
}

func TestPublish_FullQueueDrops(t *testing.T) {
	p := &Publisher{events: make(chan Event, 1)}
	p.Publish(Event{Tileset: "a"})
	p.Publish(Event{Tileset: "b"})
	if len(p.events) != 1 {
		t.Fatalf("queued=%d", len(p.events))
	}
	if ev := <-p.events; ev.Tileset != "a" {
		t.Fatalf("kept %q", ev.Tileset)
	}
}
