// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package filters

import "fmt"

// Bands is the number of equalizer bands a node exposes.
const Bands = 15

// Gain limits accepted by the node's equalizer.
const (
	MinGain = -0.25
	MaxGain = 1.0
)

// Equalizer holds one gain per band. Band 0 is 25 Hz, band 14 is 16 kHz.
type Equalizer struct {
	Gains [Bands]float64 `validate:"dive,gte=-0.25,lte=1"`
}

// NewEqualizer builds an equalizer from band -> gain. Bands that are not
// mentioned keep a gain of 0.
func NewEqualizer(gains map[int]float64) (Equalizer, error) {
	var eq Equalizer
	for band, gain := range gains {
		if band < 0 || band >= Bands {
			return Equalizer{}, fmt.Errorf("%w: band %d outside 0..%d", ErrFilterInvalidArgument, band, Bands-1)
		}
		eq.Gains[band] = gain
	}
	if err := check(&eq); err != nil {
		return Equalizer{}, err
	}
	return eq, nil
}

// FlatEqualizer has every band at 0.
func FlatEqualizer() Equalizer {
	return Equalizer{}
}

func (Equalizer) Kind() Kind { return KindEqualizer }
func (Equalizer) sealed()    {}

// Payload lists only non-zero bands, in band order.
func (e Equalizer) Payload() map[string]any {
	bands := make([]map[string]any, 0, Bands)
	for i, g := range e.Gains {
		if g == 0 {
			continue
		}
		bands = append(bands, map[string]any{"band": i, "gain": g})
	}
	return map[string]any{"bands": bands}
}
