// Package frame implements parsing and serialization of the textual
// frame protocol spoken between clients and the broker.
package frame

// Command identifies the type of a protocol frame
type Command string

// Protocol command constants
const (
	CONNECT     Command = "CONNECT"     // client requests an authenticated session
	DISCONNECT  Command = "DISCONNECT"  // client tears the session down
	SEND        Command = "SEND"        // client publishes a message to a destination
	SUBSCRIBE   Command = "SUBSCRIBE"   // client subscribes to a destination
	UNSUBSCRIBE Command = "UNSUBSCRIBE" // client cancels a subscription
	CONNECTED   Command = "CONNECTED"   // server acknowledges a successful connect
	MESSAGE     Command = "MESSAGE"     // server delivers a published message
	RECEIPT     Command = "RECEIPT"     // server acknowledges a processed frame
	ERROR       Command = "ERROR"       // server reports a failure
)

// commandSet holds every command the broker understands
var commandSet = map[Command]struct{}{
	CONNECT:     {},
	DISCONNECT:  {},
	SEND:        {},
	SUBSCRIBE:   {},
	UNSUBSCRIBE: {},
	CONNECTED:   {},
	MESSAGE:     {},
	RECEIPT:     {},
	ERROR:       {},
}

// Known reports whether the command belongs to the protocol. Frames with
// unknown commands still decode, the session layer decides what to do with
// them.
func (c Command) Known() bool {
	_, ok := commandSet[c]
	return ok
}

// String returns the wire representation of the command
func (c Command) String() string {
	return string(c)
}

// Headers is an insertion-ordered mapping of header keys to values with
// unique keys. The first occurrence of a key wins on decode.
type Headers struct {
	keys   []string
	values map[string]string
}

func NewHeaders() *Headers {
	return &Headers{values: make(map[string]string)}
}

// Set stores the value under key, keeping the key's original position when
// it is already present.
func (h *Headers) Set(key, value string) {
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
}

// add stores the value only when the key is not present yet
func (h *Headers) add(key, value string) {
	if _, ok := h.values[key]; ok {
		return
	}
	h.keys = append(h.keys, key)
	h.values[key] = value
}

func (h *Headers) Get(key string) (string, bool) {
	value, ok := h.values[key]
	return value, ok
}

func (h *Headers) Len() int {
	return len(h.keys)
}

// Each calls fn for every header in insertion order
func (h *Headers) Each(fn func(key, value string)) {
	for _, key := range h.keys {
		fn(key, h.values[key])
	}
}

// Frame is one complete protocol message
type Frame struct {
	Command Command
	Headers *Headers
	Body    string
}

func NewFrame(command Command) *Frame {
	return &Frame{
		Command: command,
		Headers: NewHeaders(),
	}
}

// Header returns the value of the named header or the empty string
func (f *Frame) Header(key string) string {
	value, _ := f.Headers.Get(key)
	return value
}

// HasHeader reports whether the named header is present
func (f *Frame) HasHeader(key string) bool {
	_, ok := f.Headers.Get(key)
	return ok
}
