// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

// Package filters defines the audio filters a node can apply to a player.
//
// The set of filters is closed: Timescale, Karaoke, Tremolo, Vibrato and
// Equalizer. Values are built through their New functions, which validate
// every parameter, and are immutable afterwards. A zero value built by hand
// is never sent; Player only accepts Filter values produced here.
package filters

import (
	"errors"
	"fmt"

	"github.com/tomtom215/granite/internal/validation"
)

// ErrFilterInvalidArgument is returned when a filter parameter is out of range.
var ErrFilterInvalidArgument = errors.New("invalid filter argument")

// Kind names a filter variant. It is also the key the variant occupies in
// the filters op body.
type Kind string

// Filter kinds.
const (
	KindTimescale Kind = "timescale"
	KindKaraoke   Kind = "karaoke"
	KindTremolo   Kind = "tremolo"
	KindVibrato   Kind = "vibrato"
	KindEqualizer Kind = "equalizer"
)

// Filter is implemented only by the variants in this package.
type Filter interface {
	Kind() Kind
	// Payload is the value stored under Kind() in the filters op.
	Payload() map[string]any
	sealed()
}

func check(v any) error {
	if err := validation.ValidateStruct(v); err != nil {
		return fmt.Errorf("%w: %s", ErrFilterInvalidArgument, err.Error())
	}
	return nil
}

// Timescale changes playback speed, pitch and rate.
type Timescale struct {
	Speed float64 `validate:"gt=0"`
	Pitch float64 `validate:"gt=0"`
	Rate  float64 `validate:"gt=0"`
}

// NewTimescale validates that every factor is positive.
func NewTimescale(speed, pitch, rate float64) (Timescale, error) {
	t := Timescale{Speed: speed, Pitch: pitch, Rate: rate}
	if err := check(&t); err != nil {
		return Timescale{}, err
	}
	return t, nil
}

// DefaultTimescale is the identity timescale.
func DefaultTimescale() Timescale {
	return Timescale{Speed: 1, Pitch: 1, Rate: 1}
}

func (Timescale) Kind() Kind { return KindTimescale }
func (Timescale) sealed()    {}

func (t Timescale) Payload() map[string]any {
	return map[string]any{"speed": t.Speed, "pitch": t.Pitch, "rate": t.Rate}
}

// Karaoke suppresses a frequency band, usually the vocals.
type Karaoke struct {
	Level       float64 `validate:"gte=0"`
	MonoLevel   float64 `validate:"gte=0"`
	FilterBand  float64 `validate:"gt=0"`
	FilterWidth float64 `validate:"gt=0"`
}

// NewKaraoke validates non-negative levels and a positive band and width.
func NewKaraoke(level, monoLevel, filterBand, filterWidth float64) (Karaoke, error) {
	k := Karaoke{Level: level, MonoLevel: monoLevel, FilterBand: filterBand, FilterWidth: filterWidth}
	if err := check(&k); err != nil {
		return Karaoke{}, err
	}
	return k, nil
}

// DefaultKaraoke matches the node's default karaoke settings.
func DefaultKaraoke() Karaoke {
	return Karaoke{Level: 1, MonoLevel: 1, FilterBand: 220, FilterWidth: 100}
}

func (Karaoke) Kind() Kind { return KindKaraoke }
func (Karaoke) sealed()    {}

func (k Karaoke) Payload() map[string]any {
	return map[string]any{
		"level":       k.Level,
		"monoLevel":   k.MonoLevel,
		"filterBand":  k.FilterBand,
		"filterWidth": k.FilterWidth,
	}
}

// Tremolo oscillates the volume.
type Tremolo struct {
	Frequency float64 `validate:"gt=0"`
	Depth     float64 `validate:"gt=0,lte=1"`
}

// NewTremolo requires frequency > 0 and depth in (0, 1].
func NewTremolo(frequency, depth float64) (Tremolo, error) {
	t := Tremolo{Frequency: frequency, Depth: depth}
	if err := check(&t); err != nil {
		return Tremolo{}, err
	}
	return t, nil
}

// DefaultTremolo returns frequency 2, depth 0.5.
func DefaultTremolo() Tremolo {
	return Tremolo{Frequency: 2, Depth: 0.5}
}

func (Tremolo) Kind() Kind { return KindTremolo }
func (Tremolo) sealed()    {}

func (t Tremolo) Payload() map[string]any {
	return map[string]any{"frequency": t.Frequency, "depth": t.Depth}
}

// Vibrato oscillates the pitch.
type Vibrato struct {
	Frequency float64 `validate:"gt=0,lte=14"`
	Depth     float64 `validate:"gt=0,lte=1"`
}

// NewVibrato requires frequency in (0, 14] and depth in (0, 1].
func NewVibrato(frequency, depth float64) (Vibrato, error) {
	v := Vibrato{Frequency: frequency, Depth: depth}
	if err := check(&v); err != nil {
		return Vibrato{}, err
	}
	return v, nil
}

// DefaultVibrato returns frequency 2, depth 0.5.
func DefaultVibrato() Vibrato {
	return Vibrato{Frequency: 2, Depth: 0.5}
}

func (Vibrato) Kind() Kind { return KindVibrato }
func (Vibrato) sealed()    {}

func (v Vibrato) Payload() map[string]any {
	return map[string]any{"frequency": v.Frequency, "depth": v.Depth}
}
