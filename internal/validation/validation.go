package validation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kjstillabower/crop-advisory-service/internal/models"
)

// Default city length bounds in runes.
const (
	DefaultCityMinLength = 1
	DefaultCityMaxLength = 100
)

// Reading bounds. Humidity is relative humidity in percent, rainfall in millimetres.
const (
	MinTemperature = -90.0
	MaxTemperature = 70.0
	MinHumidity    = 0.0
	MaxHumidity    = 100.0
	MinRainfall    = 0.0
)

var (
	// ErrCityEmpty is returned when city is empty or whitespace-only after trim.
	ErrCityEmpty = errors.New("city is required")
	// ErrCityTooShort is returned when city length is below the minimum.
	ErrCityTooShort = errors.New("city too short")
	// ErrCityTooLong is returned when city length exceeds the maximum.
	ErrCityTooLong = errors.New("city too long")
	// ErrCityInvalidChars is returned when city is not valid UTF-8 or contains control characters.
	ErrCityInvalidChars = errors.New("city contains invalid characters")
	// ErrReadingOutOfRange is returned for non-finite or out-of-range weather readings.
	ErrReadingOutOfRange = errors.New("reading out of range")
)

// ValidateCity trims input, enforces rune-length bounds (0 disables a bound) and rejects
// invalid UTF-8 and control characters. Punctuation such as "/" or "()" is allowed.
// Case folding is left to the city table.
func ValidateCity(input string, minLen, maxLen int) (string, error) {
	if !utf8.ValidString(input) {
		return "", ErrCityInvalidChars
	}
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrCityEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrCityTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	return !unicode.IsControl(r) && r != utf8.RuneError
}

// ValidateFeatures checks that every reading is finite and physically plausible.
func ValidateFeatures(f models.Features) error {
	if err := checkRange("temperature", f.Temperature, MinTemperature, MaxTemperature); err != nil {
		return err
	}
	if err := checkRange("humidity", f.Humidity, MinHumidity, MaxHumidity); err != nil {
		return err
	}
	return checkRange("rainfall", f.Rainfall, MinRainfall, math.Inf(1))
}

func checkRange(field string, v, lo, hi float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be a finite number", ErrReadingOutOfRange, field)
	}
	if v < lo {
		return fmt.Errorf("%w: %s must be >= %g", ErrReadingOutOfRange, field, lo)
	}
	if v > hi {
		return fmt.Errorf("%w: %s must be <= %g", ErrReadingOutOfRange, field, hi)
	}
	return nil
}
