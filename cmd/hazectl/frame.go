package main

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/haze/internal/control"
	"github.com/banshee-data/haze/internal/spm"
	"github.com/banshee-data/haze/internal/uncertainty"
)

// vec is a JSON [x, y] pair.
type vec [2]float64

func (v vec) toVec() r2.Vec { return r2.Vec{X: v[0], Y: v[1]} }

type observationMessage struct {
	Range      float64 `json:"range"`
	Bearing    float64 `json:"bearing"`
	Radial     float64 `json:"vr"`
	Tangential float64 `json:"vt"`
}

// pointMessage is an ego-frame Cartesian sample with its relative velocity.
type pointMessage struct {
	Rel    vec `json:"rel"`
	RelVel vec `json:"rel_vel"`
}

type trackMessage struct {
	ID       int `json:"id"`
	Position vec `json:"pos"`
	Velocity vec `json:"vel"`
}

// frameMessage is the JSON datagram hazectl reads on its sensor port.
type frameMessage struct {
	Position     vec                  `json:"pos"`
	Heading      float64              `json:"heading"`
	Velocity     vec                  `json:"vel"`
	Observations []observationMessage `json:"obs"`
	Points       []pointMessage       `json:"points"`
	Neighbors    []trackMessage       `json:"neighbors"`
	Preference   *vec                 `json:"pref,omitempty"`
	Obstacles    []vec                `json:"obstacles"`
}

func decodeFrame(payload []byte) (control.Frame, error) {
	var msg frameMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return control.Frame{}, fmt.Errorf("failed to unmarshal frame: %w", err)
	}

	f := control.Frame{
		Position: msg.Position.toVec(),
		Heading:  msg.Heading,
		Velocity: msg.Velocity.toVec(),
	}
	for _, o := range msg.Observations {
		f.Observations = append(f.Observations, spm.Observation{
			Range:              o.Range,
			Bearing:            o.Bearing,
			RadialVelocity:     o.Radial,
			TangentialVelocity: o.Tangential,
		})
	}
	for _, p := range msg.Points {
		f.Observations = append(f.Observations, spm.ObservationFromRelative(p.Rel.toVec(), p.RelVel.toVec()))
	}
	for _, n := range msg.Neighbors {
		f.Neighbors = append(f.Neighbors, uncertainty.Track{ID: n.ID, Position: n.Position.toVec(), Velocity: n.Velocity.toVec()})
	}
	if msg.Preference != nil {
		p := msg.Preference.toVec()
		f.Preference = &p
	}
	for _, o := range msg.Obstacles {
		f.Obstacles = append(f.Obstacles, o.toVec())
	}
	return f, nil
}
