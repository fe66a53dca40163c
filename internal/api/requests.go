// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/granite/internal/filters"
	"github.com/tomtom215/granite/internal/models"
	"github.com/tomtom215/granite/internal/validation"
)

// maxBodyBytes bounds request bodies. Encoded tracks are a few hundred bytes.
const maxBodyBytes = 64 << 10

// ConnectRequest joins a voice channel.
type ConnectRequest struct {
	ChannelID string `json:"channel_id" validate:"snowflake"`
}

// PlayRequest plays an encoded track, or the first match for an identifier
// resolved on the player's node.
type PlayRequest struct {
	Track      string            `json:"track" validate:"required_without=Identifier,max=4096"`
	Info       *models.TrackInfo `json:"info,omitempty"`
	Identifier string            `json:"identifier" validate:"required_without=Track,max=2048"`
	StartMs    int64             `json:"start_ms" validate:"gte=0"`
}

// PauseRequest pauses or resumes.
type PauseRequest struct {
	Paused *bool `json:"paused" validate:"required"`
}

// SeekRequest moves the playhead.
type SeekRequest struct {
	Position *int64 `json:"position" validate:"required,gte=0"`
}

// VolumeRequest sets the volume; 100 is unchanged loudness.
type VolumeRequest struct {
	Volume *int `json:"volume" validate:"required,gte=0,lte=1000"`
}

// MoveRequest re-homes a player on another node.
type MoveRequest struct {
	Node string `json:"node" validate:"required,max=64"`
}

// FiltersRequest sets any subset of the audio filters. Kinds left out keep
// their current value.
type FiltersRequest struct {
	Timescale *TimescaleBody `json:"timescale,omitempty"`
	Karaoke   *KaraokeBody   `json:"karaoke,omitempty"`
	Tremolo   *TremoloBody   `json:"tremolo,omitempty"`
	Vibrato   *VibratoBody   `json:"vibrato,omitempty"`

	// Equalizer maps band (0-14) to gain.
	Equalizer map[int]float64 `json:"equalizer,omitempty"`
}

type TimescaleBody struct {
	Speed float64 `json:"speed"`
	Pitch float64 `json:"pitch"`
	Rate  float64 `json:"rate"`
}

type KaraokeBody struct {
	Level       float64 `json:"level"`
	MonoLevel   float64 `json:"monoLevel"`
	FilterBand  float64 `json:"filterBand"`
	FilterWidth float64 `json:"filterWidth"`
}

type TremoloBody struct {
	Frequency float64 `json:"frequency"`
	Depth     float64 `json:"depth"`
}

type VibratoBody struct {
	Frequency float64 `json:"frequency"`
	Depth     float64 `json:"depth"`
}

// Set builds the filter set. Out-of-range values wrap
// filters.ErrFilterInvalidArgument.
func (f *FiltersRequest) Set() (filters.Set, error) {
	var fs []filters.Filter
	if f.Timescale != nil {
		ts, err := filters.NewTimescale(f.Timescale.Speed, f.Timescale.Pitch, f.Timescale.Rate)
		if err != nil {
			return filters.Set{}, fmt.Errorf("timescale: %w", err)
		}
		fs = append(fs, ts)
	}
	if f.Karaoke != nil {
		k, err := filters.NewKaraoke(f.Karaoke.Level, f.Karaoke.MonoLevel, f.Karaoke.FilterBand, f.Karaoke.FilterWidth)
		if err != nil {
			return filters.Set{}, fmt.Errorf("karaoke: %w", err)
		}
		fs = append(fs, k)
	}
	if f.Tremolo != nil {
		t, err := filters.NewTremolo(f.Tremolo.Frequency, f.Tremolo.Depth)
		if err != nil {
			return filters.Set{}, fmt.Errorf("tremolo: %w", err)
		}
		fs = append(fs, t)
	}
	if f.Vibrato != nil {
		v, err := filters.NewVibrato(f.Vibrato.Frequency, f.Vibrato.Depth)
		if err != nil {
			return filters.Set{}, fmt.Errorf("vibrato: %w", err)
		}
		fs = append(fs, v)
	}
	if f.Equalizer != nil {
		eq, err := filters.NewEqualizer(f.Equalizer)
		if err != nil {
			return filters.Set{}, fmt.Errorf("equalizer: %w", err)
		}
		fs = append(fs, eq)
	}
	if len(fs) == 0 {
		return filters.Set{}, fmt.Errorf("%w: no filters given", filters.ErrFilterInvalidArgument)
	}
	return filters.NewSet(fs...), nil
}

// decodeBody reads a JSON body into dst and validates it. On failure the
// error response has been written and false is returned.
func decodeBody(rw *ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(rw.w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			rw.BadRequest("request body is required")
		case errors.As(err, &maxErr):
			rw.Error(http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
		default:
			rw.BadRequest("invalid JSON body: " + err.Error())
		}
		return false
	}
	return validateRequest(rw, dst)
}

func validateRequest(rw *ResponseWriter, v interface{}) bool {
	if err := validation.ValidateStruct(v); err != nil {
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			rw.ValidationError("request validation failed", verrs.Fields())
		} else {
			rw.BadRequest(err.Error())
		}
		return false
	}
	return true
}
