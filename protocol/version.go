package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// HandlerVersion is the version a capability handler declares. Versions with
// the same major number are compatible; the minor number only records
// additions that both sides tolerate.
type HandlerVersion struct {
	Major int
	Minor int
}

// NewHandlerVersion returns a HandlerVersion.
func NewHandlerVersion(major, minor int) HandlerVersion {
	return HandlerVersion{Major: major, Minor: minor}
}

// ParseHandlerVersion parses "major.minor". A bare "major" is accepted with
// a zero minor. A leading "v" is ignored.
func ParseHandlerVersion(s string) (HandlerVersion, error) {
	s = strings.TrimPrefix(strings.TrimSpace(strings.ToLower(s)), "v")
	if s == "" {
		return HandlerVersion{}, fmt.Errorf("empty handler version")
	}

	majorPart, minorPart, hasMinor := strings.Cut(s, ".")
	major, err := strconv.Atoi(majorPart)
	if err != nil || major < 0 {
		return HandlerVersion{}, fmt.Errorf("invalid handler version %q: bad major", s)
	}

	minor := 0
	if hasMinor {
		minor, err = strconv.Atoi(minorPart)
		if err != nil || minor < 0 {
			return HandlerVersion{}, fmt.Errorf("invalid handler version %q: bad minor", s)
		}
	}

	return HandlerVersion{Major: major, Minor: minor}, nil
}

// Compatible reports whether v and other share a major version.
func (v HandlerVersion) Compatible(other HandlerVersion) bool {
	return v.Major == other.Major
}

// String implements fmt.Stringer.
func (v HandlerVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// MarshalText encodes the version as "major.minor".
func (v HandlerVersion) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText decodes "major.minor".
func (v *HandlerVersion) UnmarshalText(text []byte) error {
	parsed, err := ParseHandlerVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
