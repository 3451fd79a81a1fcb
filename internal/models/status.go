package models

import (
	"strconv"
	"strings"
)

// ReadingStatus is where a book sits on a user's shelf.
// The zero value is not a valid status.
type ReadingStatus uint8

const (
	StatusReading ReadingStatus = iota + 1
	StatusFinished
	StatusWantToRead
)

// AllStatuses lists every valid status in display order
var AllStatuses = []ReadingStatus{StatusReading, StatusFinished, StatusWantToRead}

// Valid reports whether s is one of the known statuses
func (s ReadingStatus) Valid() bool {
	switch s {
	case StatusReading, StatusFinished, StatusWantToRead:
		return true
	}
	return false
}

// String returns the machine name of the status
func (s ReadingStatus) String() string {
	switch s {
	case StatusReading:
		return "reading"
	case StatusFinished:
		return "finished"
	case StatusWantToRead:
		return "want_to_read"
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

// DisplayName returns the human readable label shown to users
func (s ReadingStatus) DisplayName() string {
	switch s {
	case StatusReading:
		return "Reading"
	case StatusFinished:
		return "Finished"
	case StatusWantToRead:
		return "Want to read"
	}
	return "Unknown"
}

// ParseStatusCode converts a numeric status code, rejecting unknown values
func ParseStatusCode(code int) (ReadingStatus, error) {
	if code < 0 || code > 255 || !ReadingStatus(code).Valid() {
		return 0, Errorf(ErrInvalidArgument, "%d is not a valid reading status", code)
	}
	return ReadingStatus(code), nil
}

// ParseStatus accepts either a status name or its numeric code
func ParseStatus(value string) (ReadingStatus, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "reading":
		return StatusReading, nil
	case "finished", "read":
		return StatusFinished, nil
	case "want_to_read", "want-to-read", "wanttoread":
		return StatusWantToRead, nil
	}
	if code, err := strconv.Atoi(v); err == nil {
		return ParseStatusCode(code)
	}
	return 0, Errorf(ErrInvalidArgument, "%q is not a valid reading status", value)
}
