// Package habitlog stores per-habit, per-month completion statuses as packed
// bitmasks and merges them field by field.
//
// Layout: every time-of-day slot is a 3-bit field (2-bit status code plus a
// tombstone bit). A day holds three slots (9 bits) and a 32-bit word holds
// three days, leaving bits 27..31 unused. A month is WordsPerMonth words.
package habitlog

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Status is the code stored in the low two bits of a slot field.
type Status uint8

const (
	StatusNull     Status = 0
	StatusDone     Status = 1
	StatusDeferred Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusNull:
		return "pending"
	case StatusDone:
		return "done"
	case StatusDeferred:
		return "deferred"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseStatus accepts the names produced by String.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "null", "":
		return StatusNull, nil
	case "done":
		return StatusDone, nil
	case "deferred", "snoozed":
		return StatusDeferred, nil
	default:
		return StatusNull, fmt.Errorf("invalid status: %s", s)
	}
}

// Slot is a time-of-day index within a day.
type Slot int

const (
	SlotMorning Slot = iota
	SlotAfternoon
	SlotEvening

	SlotsPerDay = 3
)

var slotNames = [SlotsPerDay]string{"Morning", "Afternoon", "Evening"}

func (s Slot) String() string {
	if s < 0 || int(s) >= SlotsPerDay {
		return fmt.Sprintf("slot(%d)", int(s))
	}
	return slotNames[s]
}

// Valid reports whether s addresses a real field.
func (s Slot) Valid() bool {
	return s >= 0 && int(s) < SlotsPerDay
}

// MarshalText writes the slot name, so slots read naturally in JSON values
// and map keys.
func (s Slot) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid time of day %d", int(s))
	}
	return []byte(slotNames[s]), nil
}

func (s *Slot) UnmarshalText(text []byte) error {
	v, err := ParseSlot(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSlot accepts the slot names case-insensitively.
func ParseSlot(name string) (Slot, error) {
	for i, n := range slotNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return Slot(i), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day: %s", name)
}

const (
	fieldBits    = 3
	statusMask   = 0b011
	tombstoneBit = 0b100
	fieldMask    = 0b111

	dayBits     = fieldBits * SlotsPerDay
	daysPerWord = 3
	wordBits    = dayBits * daysPerWord
	usedMask    = uint32(1)<<wordBits - 1

	// MaxDays is the number of day positions addressable in one month.
	MaxDays = 31
	// WordsPerMonth is the number of 32-bit words backing one month.
	WordsPerMonth = (MaxDays + daysPerWord - 1) / daysPerWord

	// Legacy layout: 2 bits per slot, packed contiguously into one integer.
	legacyFieldBits = 2
	legacyMaxBits   = MaxDays * SlotsPerDay * legacyFieldBits
)

// fieldRank orders all eight 3-bit field values. Merging keeps the field with
// the higher rank: DONE > DEFERRED > cleared (tombstone) > untouched. Reserved
// status code 3 ranks just above untouched so an all-zero word is the bottom
// element.
var fieldRank = [8]uint8{
	0b000: 0, // untouched
	0b011: 1, // reserved
	0b111: 2, // reserved + tombstone
	0b100: 3, // explicitly cleared
	0b010: 4, // deferred
	0b110: 5, // deferred + tombstone
	0b001: 6, // done
	0b101: 7, // done + tombstone
}

// Bitmask holds one month of statuses for one habit.
type Bitmask [WordsPerMonth]uint32

func position(day int, slot Slot) (int, uint) {
	d := day - 1
	return d / daysPerWord, uint((d%daysPerWord)*dayBits + int(slot)*fieldBits)
}

func validPosition(day int, slot Slot) bool {
	return day >= 1 && day <= MaxDays && slot.Valid()
}

func (b *Bitmask) field(day int, slot Slot) uint32 {
	w, shift := position(day, slot)
	return (b[w] >> shift) & fieldMask
}

func (b *Bitmask) setField(day int, slot Slot, v uint32) {
	w, shift := position(day, slot)
	b[w] = (b[w] &^ (fieldMask << shift)) | ((v & fieldMask) << shift)
}

// Get returns the status of (day, slot); StatusNull when never written.
func (b *Bitmask) Get(day int, slot Slot) Status {
	if !validPosition(day, slot) {
		return StatusNull
	}
	return Status(b.field(day, slot) & statusMask)
}

// Tombstoned reports whether (day, slot) was explicitly cleared.
func (b *Bitmask) Tombstoned(day int, slot Slot) bool {
	if !validPosition(day, slot) {
		return false
	}
	return b.field(day, slot)&tombstoneBit != 0
}

// Set writes a status. Clearing a field that was ever written leaves the
// tombstone bit behind so that merges can tell "cleared" from "never set".
func (b *Bitmask) Set(day int, slot Slot, s Status) error {
	if !validPosition(day, slot) {
		return fmt.Errorf("invalid log position: day %d, slot %d", day, int(slot))
	}
	if s > StatusDeferred {
		return fmt.Errorf("invalid status code %d", uint8(s))
	}
	old := b.field(day, slot)
	next := uint32(s)
	if s == StatusNull && old != 0 {
		next = tombstoneBit
	}
	b.setField(day, slot, next)
	return nil
}

// IsZero reports whether no field was ever written.
func (b Bitmask) IsZero() bool {
	for _, w := range b {
		if w != 0 {
			return false
		}
	}
	return true
}

// Count returns how many slots of the month hold status s. StatusNull is
// never counted.
func (b Bitmask) Count(s Status) int {
	if s == StatusNull {
		return 0
	}
	n := 0
	for _, w := range b {
		for shift := uint(0); shift < wordBits; shift += fieldBits {
			if Status((w>>shift)&statusMask) == s {
				n++
			}
		}
	}
	return n
}

// MergeBitmask merges two months field by field using fieldRank. The result
// does not depend on argument order and merging is associative.
func MergeBitmask(a, b Bitmask) Bitmask {
	var out Bitmask
	for i := range out {
		out[i] = mergeWord(a[i], b[i])
	}
	return out
}

func mergeWord(a, b uint32) uint32 {
	if a == b || b == 0 {
		return a
	}
	if a == 0 {
		return b
	}
	var out uint32
	for shift := uint(0); shift < wordBits; shift += fieldBits {
		fa := (a >> shift) & fieldMask
		fb := (b >> shift) & fieldMask
		if fieldRank[fb] > fieldRank[fa] {
			fa = fb
		}
		out |= fa << shift
	}
	return out
}

// Hex encodes the month as the lowercase hex of the integer whose 32-bit
// words are b (word 0 least significant), without leading zeros.
func (b Bitmask) Hex() string {
	top := -1
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0 {
			top = i
			break
		}
	}
	if top < 0 {
		return "0"
	}
	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(uint64(b[top]), 16))
	for i := top - 1; i >= 0; i-- {
		word := strconv.FormatUint(uint64(b[i]), 16)
		sb.WriteString(strings.Repeat("0", 8-len(word)))
		sb.WriteString(word)
	}
	return sb.String()
}

// ParseHex decodes the output of Hex. An optional 0x prefix is accepted.
// Values wider than a month or with bits in unused positions are rejected.
func ParseHex(s string) (Bitmask, error) {
	var b Bitmask
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return b, fmt.Errorf("empty bitmask value")
	}
	s = strings.TrimLeft(s, "0")
	if len(s) > WordsPerMonth*8 {
		return b, fmt.Errorf("bitmask value exceeds %d words", WordsPerMonth)
	}
	for i := 0; len(s) > 0; i++ {
		start := len(s) - 8
		if start < 0 {
			start = 0
		}
		w, err := strconv.ParseUint(s[start:], 16, 32)
		if err != nil {
			return Bitmask{}, fmt.Errorf("invalid bitmask hex: %w", err)
		}
		if uint32(w)&^usedMask != 0 {
			return Bitmask{}, fmt.Errorf("bitmask word %d has bits outside the day fields", i)
		}
		b[i] = uint32(w)
		s = s[:start]
	}
	return b, nil
}

// DecodeLegacy converts a legacy 6-bit-per-day integer (hex) into the current
// layout. Status codes are carried over unchanged; legacy data has no
// tombstones.
func DecodeLegacy(s string) (Bitmask, error) {
	var b Bitmask
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, ok := new(big.Int).SetString(s, 16)
	if !ok || v.Sign() < 0 {
		return b, fmt.Errorf("invalid legacy bitmask %q", s)
	}
	if v.BitLen() > legacyMaxBits {
		return b, fmt.Errorf("legacy bitmask exceeds %d bits", legacyMaxBits)
	}
	for day := 1; day <= MaxDays; day++ {
		for slot := Slot(0); slot < SlotsPerDay; slot++ {
			pos := ((day-1)*SlotsPerDay + int(slot)) * legacyFieldBits
			code := v.Bit(pos) | v.Bit(pos+1)<<1
			if code != 0 {
				b.setField(day, slot, uint32(code))
			}
		}
	}
	return b, nil
}
