package store

import "time"

// TimeCodec converts timestamps to and from their column representation.
// It is passed into each store's constructor so encoding stays an explicit
// per-store choice instead of a process-wide registration.
type TimeCodec struct {
	Encode func(time.Time) string
	Decode func(string) (time.Time, error)
}

// DefaultTimeCodec encodes UTC timestamps at fixed nanosecond width, so the
// column's lexicographic order matches chronological order and range queries
// can compare strings directly.
func DefaultTimeCodec() TimeCodec {
	const layout = "2006-01-02T15:04:05.000000000Z07:00"
	return TimeCodec{
		Encode: func(t time.Time) string {
			return t.UTC().Format(layout)
		},
		Decode: func(s string) (time.Time, error) {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return time.Time{}, err
			}
			return t.UTC(), nil
		},
	}
}

func (c TimeCodec) valid() bool {
	return c.Encode != nil && c.Decode != nil
}
