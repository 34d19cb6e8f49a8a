package frame

import (
	"errors"
	"fmt"
	"strings"
)

// Wire grammar: a command line, header lines of the form key:value
// terminated by a blank line, then the body running to the end of the
// frame. The transport delimits frames on the wire; the codec only sees
// one complete frame at a time and keeps no state across calls.

var (
	ErrEmptyFrame    = errors.New("frame is empty")
	ErrMissingBlank  = errors.New("frame has no blank line after the headers")
	ErrEmptyCommand  = errors.New("frame command line is empty")
	ErrInvalidHeader = errors.New("header line has no ':' separator")
)

// Encode serializes the frame into its wire form
func Encode(f *Frame) []byte {
	var sb strings.Builder
	sb.WriteString(string(f.Command))
	sb.WriteByte('\n')
	f.Headers.Each(func(key, value string) {
		sb.WriteString(key)
		sb.WriteByte(':')
		sb.WriteString(value)
		sb.WriteByte('\n')
	})
	sb.WriteByte('\n')
	sb.WriteString(f.Body)
	return []byte(sb.String())
}

// Decode parses one complete frame. The command is validated for shape but
// not membership, so the session layer can ignore unknown commands instead
// of dropping the connection.
func Decode(data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	head, body, found := strings.Cut(text, "\n\n")
	if !found {
		return nil, ErrMissingBlank
	}

	lines := strings.Split(head, "\n")
	command := strings.TrimSpace(lines[0])
	if command == "" {
		return nil, ErrEmptyCommand
	}

	result := NewFrame(Command(command))
	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidHeader, line)
		}
		// first occurrence of a repeated key wins
		result.Headers.add(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	result.Body = body
	return result, nil
}
