package refine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	MinScore = 0
	MaxScore = 10
)

// RatingRecord holds the scores produced by a critique stage. Every field is
// optional; technical critiques fill the first four, creative critiques the
// last four.
type RatingRecord struct {
	Clarity           *int `json:"clarity,omitempty" validate:"omitempty,min=0,max=10"`
	Structure         *int `json:"structure,omitempty" validate:"omitempty,min=0,max=10"`
	TechnicalAccuracy *int `json:"technical_accuracy,omitempty" validate:"omitempty,min=0,max=10"`
	Completeness      *int `json:"completeness,omitempty" validate:"omitempty,min=0,max=10"`
	Engagement        *int `json:"engagement,omitempty" validate:"omitempty,min=0,max=10"`
	Style             *int `json:"style,omitempty" validate:"omitempty,min=0,max=10"`
	Impact            *int `json:"impact,omitempty" validate:"omitempty,min=0,max=10"`
	Innovation        *int `json:"innovation,omitempty" validate:"omitempty,min=0,max=10"`
}

var ratingValidator = newRatingValidator()

func newRatingValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// wireRatings accepts fractional scores; producers are language models and
// do not always emit integers.
type wireRatings struct {
	Clarity           *float64 `json:"clarity"`
	Structure         *float64 `json:"structure"`
	TechnicalAccuracy *float64 `json:"technical_accuracy"`
	Completeness      *float64 `json:"completeness"`
	Engagement        *float64 `json:"engagement"`
	Style             *float64 `json:"style"`
	Impact            *float64 `json:"impact"`
	Innovation        *float64 `json:"innovation"`
}

// ParseRatings decodes a ratings payload. Fractional scores are rounded;
// range checking is left to Normalize.
func ParseRatings(raw json.RawMessage) (RatingRecord, error) {
	var w wireRatings
	if err := json.Unmarshal(raw, &w); err != nil {
		return RatingRecord{}, fmt.Errorf("decode ratings: %w", err)
	}
	return RatingRecord{
		Clarity:           roundScore(w.Clarity),
		Structure:         roundScore(w.Structure),
		TechnicalAccuracy: roundScore(w.TechnicalAccuracy),
		Completeness:      roundScore(w.Completeness),
		Engagement:        roundScore(w.Engagement),
		Style:             roundScore(w.Style),
		Impact:            roundScore(w.Impact),
		Innovation:        roundScore(w.Innovation),
	}, nil
}

var errMissingRatings = errors.New("ratings payload is empty")

// parseRatingsLenient keeps every readable score and reports the rest.
func parseRatingsLenient(raw json.RawMessage) (RatingRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return RatingRecord{}, errMissingRatings
	}
	if r, err := ParseRatings(trimmed); err == nil {
		return r, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return RatingRecord{}, fmt.Errorf("decode ratings: %w", err)
	}
	var out RatingRecord
	var bad []string
	for name, value := range fields {
		p := out.field(ratingJSONNames[name])
		if p == nil {
			continue
		}
		var f float64
		if err := json.Unmarshal(value, &f); err != nil {
			bad = append(bad, name)
			continue
		}
		*p = roundScore(&f)
	}
	sort.Strings(bad)
	return out, fmt.Errorf("unreadable rating fields: %s", strings.Join(bad, ", "))
}

var ratingJSONNames = map[string]string{
	"clarity":            "Clarity",
	"structure":          "Structure",
	"technical_accuracy": "TechnicalAccuracy",
	"completeness":       "Completeness",
	"engagement":         "Engagement",
	"style":              "Style",
	"impact":             "Impact",
	"innovation":         "Innovation",
}

func roundScore(f *float64) *int {
	if f == nil {
		return nil
	}
	v := int(math.Round(*f))
	return &v
}

// Normalize clamps out-of-range scores into [MinScore, MaxScore]. It returns
// the normalized record and the json names of the fields it had to clamp.
func (r RatingRecord) Normalize() (RatingRecord, []string) {
	err := ratingValidator.Struct(r)
	if err == nil {
		return r, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return r, nil
	}

	out := r
	var clamped []string
	for _, fe := range verrs {
		p := out.field(fe.StructField())
		if p == nil || *p == nil {
			continue
		}
		v := clampScore(**p)
		*p = &v
		clamped = append(clamped, fe.Field())
	}
	return out, clamped
}

// Empty reports whether no score is set.
func (r RatingRecord) Empty() bool {
	for _, name := range ratingFields {
		if p := r.field(name); p != nil && *p != nil {
			return false
		}
	}
	return true
}

func (r RatingRecord) clone() RatingRecord {
	out := r
	for _, name := range ratingFields {
		p := out.field(name)
		if *p != nil {
			v := **p
			*p = &v
		}
	}
	return out
}

var ratingFields = []string{
	"Clarity", "Structure", "TechnicalAccuracy", "Completeness",
	"Engagement", "Style", "Impact", "Innovation",
}

func (r *RatingRecord) field(name string) **int {
	switch name {
	case "Clarity":
		return &r.Clarity
	case "Structure":
		return &r.Structure
	case "TechnicalAccuracy":
		return &r.TechnicalAccuracy
	case "Completeness":
		return &r.Completeness
	case "Engagement":
		return &r.Engagement
	case "Style":
		return &r.Style
	case "Impact":
		return &r.Impact
	case "Innovation":
		return &r.Innovation
	}
	return nil
}

func clampScore(v int) int {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

// Score is a convenience for building records in code.
func Score(v int) *int {
	return &v
}
