// Package types provides shared value types for virtutil: byte-size
// constants and the parsers for the size notations accepted on the command
// line (human sizes such as "100GB" and Docker memory limits such as "4g").
package types

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

// sizePattern matches size strings like "100M", "2G", "500K", "1.5GB", etc.
var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([KMGT]?(?:i?B)?)\s*$`)

// memoryPattern matches the Docker --memory notation: an integer with an
// optional single-letter b/k/m/g suffix.
var memoryPattern = regexp.MustCompile(`(?i)^\s*([0-9]+)\s*([bkmg]?)\s*$`)

// ErrInvalidSize indicates that the size string could not be parsed.
var ErrInvalidSize = errors.New("invalid size format")

// ErrNegativeSize indicates that a negative size value was provided.
var ErrNegativeSize = errors.New("size cannot be negative")

// ErrInvalidMemory indicates a Docker memory limit that could not be parsed.
var ErrInvalidMemory = errors.New("invalid memory limit")

// ParseSize parses a human-readable size string and returns the size in bytes.
// It supports the following formats:
//   - Plain bytes: "1024", "0"
//   - With byte suffix: "512B"
//   - Kilobytes to terabytes: "100K", "50MB", "2GiB", "1T"
//
// Decimal values are supported and truncated to the nearest byte.
// All units are binary, so "100GB" is 100 * 1024^3 bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}

	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeSize
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	suffix := strings.ToUpper(matches[2])
	suffix = strings.TrimSuffix(suffix, "IB")
	suffix = strings.TrimSuffix(suffix, "B")

	multiplier, err := unitMultiplier(suffix)
	if err != nil {
		return 0, err
	}

	return int64(value * float64(multiplier)), nil
}

// ParseMemory parses a Docker memory limit ("512m", "4g", "2147483648")
// into bytes. A bare number is bytes.
func ParseMemory(s string) (int64, error) {
	if strings.HasPrefix(strings.TrimSpace(s), "-") {
		return 0, ErrNegativeSize
	}

	matches := memoryPattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("%w: %q (expected e.g. 512m or 4g)", ErrInvalidMemory, s)
	}

	value, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMemory, s)
	}

	suffix := strings.ToUpper(matches[2])
	if suffix == "B" {
		suffix = ""
	}

	multiplier, err := unitMultiplier(suffix)
	if err != nil {
		return 0, err
	}

	return value * multiplier, nil
}

// FormatMemory renders bytes in Docker --memory notation, using the largest
// unit that divides the value exactly.
func FormatMemory(bytes int64) string {
	switch {
	case bytes <= 0:
		return "0"
	case bytes%GiB == 0:
		return fmt.Sprintf("%dg", bytes/GiB)
	case bytes%MiB == 0:
		return fmt.Sprintf("%dm", bytes/MiB)
	case bytes%KiB == 0:
		return fmt.Sprintf("%dk", bytes/KiB)
	default:
		return strconv.FormatInt(bytes, 10)
	}
}

func unitMultiplier(suffix string) (int64, error) {
	switch suffix {
	case "":
		return 1, nil
	case "K":
		return KiB, nil
	case "M":
		return MiB, nil
	case "G":
		return GiB, nil
	case "T":
		return TiB, nil
	default:
		return 0, fmt.Errorf("%w: unknown suffix %q", ErrInvalidSize, suffix)
	}
}

// FormatSize converts a size in bytes to a human-readable string using
// binary (IEC) units, e.g. "1.5 GiB".
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}
