package habitlog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/logger"
)

// Key addresses one habit's log for one month.
type Key struct {
	HabitID string
	Month   string // YYYY-MM
}

func (k Key) String() string {
	return k.HabitID + "_" + k.Month
}

// ParseKey parses "<habitId>_<YYYY-MM>".
func ParseKey(s string) (Key, error) {
	idx := strings.LastIndex(s, "_")
	if idx <= 0 || idx == len(s)-1 {
		return Key{}, fmt.Errorf("invalid log key %q", s)
	}
	month := s[idx+1:]
	if _, err := time.Parse(constants.MonthFormat, month); err != nil {
		return Key{}, fmt.Errorf("invalid month in log key %q: %w", s, err)
	}
	return Key{HabitID: s[:idx], Month: month}, nil
}

// KeyFor returns the key and day-of-month of date for habitID.
func KeyFor(habitID string, date time.Time) (Key, int) {
	return Key{HabitID: habitID, Month: date.Format(constants.MonthFormat)}, date.Day()
}

// Entry is the serialized form of one bitmask: key plus hex value.
type Entry struct {
	Key string
	Hex string
}

// Log maps (habit, month) to its bitmask. The zero value is not usable;
// use New or make.
type Log map[Key]Bitmask

func New() Log {
	return make(Log)
}

// SetStatus writes the status of (habitID, date, slot), creating the month
// lazily.
func (l Log) SetStatus(habitID string, date time.Time, slot Slot, s Status) error {
	if habitID == "" {
		return fmt.Errorf("habit id cannot be empty")
	}
	key, day := KeyFor(habitID, date)
	b := l[key]
	if err := b.Set(day, slot, s); err != nil {
		return err
	}
	l[key] = b
	return nil
}

// GetStatus returns StatusNull for anything never written.
func (l Log) GetStatus(habitID string, date time.Time, slot Slot) Status {
	key, day := KeyFor(habitID, date)
	b, ok := l[key]
	if !ok {
		return StatusNull
	}
	return b.Get(day, slot)
}

// IsCleared reports whether the slot carries a tombstone.
func (l Log) IsCleared(habitID string, date time.Time, slot Slot) bool {
	key, day := KeyFor(habitID, date)
	b, ok := l[key]
	if !ok {
		return false
	}
	return b.Tombstoned(day, slot)
}

// PruneHabit removes every month of habitID and returns how many were removed.
func (l Log) PruneHabit(habitID string) int {
	n := 0
	for k := range l {
		if k.HabitID == habitID {
			delete(l, k)
			n++
		}
	}
	return n
}

// Clone returns an independent copy.
func (l Log) Clone() Log {
	out := make(Log, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Merge returns the field-wise merge of a and b. Neither input is modified.
// Cost is proportional to the number of distinct months present.
func Merge(a, b Log) Log {
	out := make(Log, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if cur, ok := out[k]; ok {
			out[k] = MergeBitmask(cur, v)
		} else {
			out[k] = v
		}
	}
	return out
}

// Serialize emits one entry per non-empty month, sorted by key.
func (l Log) Serialize() []Entry {
	entries := make([]Entry, 0, len(l))
	for k, v := range l {
		if v.IsZero() {
			continue
		}
		entries = append(entries, Entry{Key: k.String(), Hex: v.Hex()})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
	return entries
}

// Deserialize rebuilds a Log from entries. Malformed keys or values are
// skipped and counted; duplicate keys are merged.
func Deserialize(entries []Entry) (Log, int) {
	l := make(Log, len(entries))
	skipped := 0
	for _, e := range entries {
		key, err := ParseKey(e.Key)
		if err != nil {
			logger.Warn("Skipping malformed log key", "key", e.Key, "error", err)
			skipped++
			continue
		}
		b, err := ParseHex(e.Hex)
		if err != nil {
			logger.Warn("Skipping corrupt log value", "key", e.Key, "error", err)
			skipped++
			continue
		}
		if cur, ok := l[key]; ok {
			b = MergeBitmask(cur, b)
		}
		l[key] = b
	}
	return l, skipped
}

// MarshalJSON writes the log as an array of [key, hex] pairs.
func (l Log) MarshalJSON() ([]byte, error) {
	entries := l.Serialize()
	pairs := make([][2]string, len(entries))
	for i, e := range entries {
		pairs[i] = [2]string{e.Key, e.Hex}
	}
	return json.Marshal(pairs)
}

// UnmarshalJSON reads an array of [key, hex] pairs. Elements that are not
// string pairs are skipped rather than failing the whole document.
func (l *Log) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("monthly logs must be an array of pairs: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	skipped := 0
	for _, r := range raw {
		var pair [2]string
		if err := json.Unmarshal(r, &pair); err != nil {
			skipped++
			continue
		}
		entries = append(entries, Entry{Key: pair[0], Hex: pair[1]})
	}
	out, _ := Deserialize(entries)
	if skipped > 0 {
		logger.Warn("Skipped malformed monthly log pairs", "count", skipped)
	}
	*l = out
	return nil
}
