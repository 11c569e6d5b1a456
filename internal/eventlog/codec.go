package eventlog

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// FormatVersion is the version written in the header of serialized logs.
const FormatVersion = 1

var (
	// ErrInvalidFormat is returned for data written in an unsupported version.
	ErrInvalidFormat = errors.New("eventlog: invalid format")

	// ErrSerialization is returned when the log cannot be encoded.
	ErrSerialization = errors.New("eventlog: serialization failed")

	// ErrDeserialization is returned for truncated or corrupt data.
	ErrDeserialization = errors.New("eventlog: deserialization failed")
)

// header is the first item of a serialized log.
type header struct {
	Version       uint32 `cbor:"version"`
	ConsumedCount uint64 `cbor:"consumed_count"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("eventlog: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("eventlog: CBOR decoder initialization failed: " + err.Error())
	}
}

// Serialize encodes the log as a CBOR sequence: a header item followed by
// one item per entry, oldest first, with no outer framing.
func (l *Log) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := l.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode streams the serialized log to w.
func (l *Log) Encode(w io.Writer) error {
	enc := encMode.NewEncoder(w)
	if err := enc.Encode(header{Version: FormatVersion, ConsumedCount: uint64(l.consumed)}); err != nil {
		return fmt.Errorf("%w: header: %v", ErrSerialization, err)
	}
	i := 0
	for e := range l.entries.All() {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("%w: entry %d: %v", ErrSerialization, i, err)
		}
		i++
	}
	return nil
}

// Deserialize decodes data produced by Serialize into a log with the default
// capacity.
func Deserialize(data []byte) (*Log, error) {
	return DeserializeWithCapacity(data, Capacity)
}

// DeserializeWithCapacity decodes data into a log holding at most capacity
// entries. If data holds more, the newest are kept. The watermark is clamped
// to the entries actually loaded.
func DeserializeWithCapacity(data []byte, capacity int) (*Log, error) {
	return Decode(bytes.NewReader(data), capacity)
}

// Decode reads a serialized log from r.
func Decode(r io.Reader, capacity int) (*Log, error) {
	dec := decMode.NewDecoder(r)

	var h header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrDeserialization, err)
	}
	if h.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidFormat, h.Version)
	}

	l := NewWithCapacity(capacity)
	consumed := h.ConsumedCount
	for i := 0; ; i++ {
		var e Entry
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrDeserialization, i, err)
		}
		if err := e.Event.Validate(); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrDeserialization, i, err)
		}
		if l.entries.Push(e) && consumed > 0 {
			consumed--
		}
	}
	l.consumed = int(min(consumed, uint64(l.entries.Len())))
	return l, nil
}
