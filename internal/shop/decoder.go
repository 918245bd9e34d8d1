// Package shop decodes the binary shop listing returned by a world's
// /shopping endpoints and computes the canonical state digest over it.
package shop

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
)

// ErrMalformedPayload is returned when the buffer does not split into whole entries.
var ErrMalformedPayload = errors.New("malformed shop payload")

// fixedEntrySize is the width of an entry without its two strings.
const fixedEntrySize = 23

// Location is a shop position. Z is the negated wire value and is wider than
// the wire field so that -32768 negates exactly.
type Location struct {
	X int16
	Y uint8
	Z int32
}

type Entry struct {
	BeaconName      string
	GuildTag        string
	ItemCount       uint32
	ShopActivity    uint32
	PriceHundredths int64
	Price           decimal.Decimal
	Location        Location
}

// Decode parses buf into entries. The stream has no count prefix; it must be
// consumed exactly. z is negated on decode.
func Decode(buf []byte) ([]Entry, error) {
	var out []Entry
	off := 0
	for off < len(buf) {
		if len(buf)-off < 2 {
			return nil, fmt.Errorf("%w: %d trailing bytes at offset %d", ErrMalformedPayload, len(buf)-off, off)
		}
		nameLen := int(buf[off])
		tagLen := int(buf[off+1])
		size := fixedEntrySize + nameLen + tagLen
		if len(buf)-off < size {
			return nil, fmt.Errorf("%w: entry at offset %d needs %d bytes, %d left", ErrMalformedPayload, off, size, len(buf)-off)
		}
		p := off + 2
		name, err := latin1(buf[p : p+nameLen])
		if err != nil {
			return nil, err
		}
		p += nameLen
		tag, err := latin1(buf[p : p+tagLen])
		if err != nil {
			return nil, err
		}
		p += tagLen

		e := Entry{BeaconName: name, GuildTag: tag}
		e.ItemCount = binary.LittleEndian.Uint32(buf[p:])
		p += 4
		e.ShopActivity = binary.LittleEndian.Uint32(buf[p:])
		p += 4
		e.PriceHundredths = int64(binary.LittleEndian.Uint64(buf[p:]))
		p += 8
		e.Location.X = int16(binary.LittleEndian.Uint16(buf[p:]))
		p += 2
		e.Location.Z = -int32(int16(binary.LittleEndian.Uint16(buf[p:])))
		p += 2
		e.Location.Y = buf[p]
		e.Price = decimal.New(e.PriceHundredths, -2)

		out = append(out, e)
		off += size
	}
	return out, nil
}

// Encode is the inverse of Decode. It exists for fixtures and tooling that
// replay captured listings.
func Encode(entries []Entry) ([]byte, error) {
	enc := charmap.ISO8859_1.NewEncoder()
	var out []byte
	for _, e := range entries {
		name, err := enc.Bytes([]byte(e.BeaconName))
		if err != nil {
			return nil, fmt.Errorf("encode beacon name %q: %w", e.BeaconName, err)
		}
		tag, err := enc.Bytes([]byte(e.GuildTag))
		if err != nil {
			return nil, fmt.Errorf("encode guild tag %q: %w", e.GuildTag, err)
		}
		if len(name) > 255 || len(tag) > 255 {
			return nil, fmt.Errorf("string too long for entry at %v", e.Location)
		}
		out = append(out, byte(len(name)), byte(len(tag)))
		out = append(out, name...)
		out = append(out, tag...)
		out = binary.LittleEndian.AppendUint32(out, e.ItemCount)
		out = binary.LittleEndian.AppendUint32(out, e.ShopActivity)
		out = binary.LittleEndian.AppendUint64(out, uint64(e.PriceHundredths))
		out = binary.LittleEndian.AppendUint16(out, uint16(e.Location.X))
		wireZ := -e.Location.Z
		if wireZ < math.MinInt16 || wireZ > math.MaxInt16 {
			return nil, fmt.Errorf("z %d out of range for entry at %v", e.Location.Z, e.Location)
		}
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(wireZ)))
		out = append(out, e.Location.Y)
	}
	return out, nil
}

func latin1(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return string(s), nil
}
