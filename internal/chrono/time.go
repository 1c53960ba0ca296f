package chrono

import (
	"time"
)

// TimeAPI is the interface that anything depending on the system clock should use.
type TimeAPI interface {
	// Now returns the current time in Location().
	Now() time.Time
	Location() *time.Location
}

// StandardTime is the standard implementation of TimeAPI using the standard library.
type StandardTime struct {
	location *time.Location
}

// NewStandardTime loads the given IANA timezone, an empty name means UTC.
func NewStandardTime(timezone string) (StandardTime, error) {
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return StandardTime{}, err
	}
	return StandardTime{location: location}, nil
}

func (s StandardTime) Now() time.Time {
	return time.Now().In(s.Location())
}

func (s StandardTime) Location() *time.Location {
	if s.location == nil {
		return time.UTC
	}
	return s.location
}
