// Package feed reads classified keystroke events from newline-delimited JSON.
//
// Each non-blank line holds one event object, optionally with a "ts" field in
// Unix milliseconds. Lines starting with '#' are comments.
package feed

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"crumbeez/internal/keystroke"
)

//go:embed event.schema.json
var schemaJSON []byte

const schemaURL = "event.schema.json"

var (
	compileOnce sync.Once
	eventSchema *jsonschema.Schema
	compileErr  error
)

// Schema returns the compiled JSON schema for one feed line.
func Schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		eventSchema, compileErr = compiler.Compile(schemaURL)
	})
	return eventSchema, compileErr
}

// ErrInvalidLine is wrapped by every LineError.
var ErrInvalidLine = errors.New("feed: invalid line")

// LineError reports a line that could not be turned into an event.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("feed: line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() []error { return []error{ErrInvalidLine, e.Err} }

// Item is one decoded feed line.
type Item struct {
	Event keystroke.Event
	// TimestampMs is zero when the line carried no timestamp.
	TimestampMs uint64
	Line        int
}

type wireEvent struct {
	keystroke.Event
	TS *uint64 `json:"ts,omitempty"`
}

// Encode writes ev as a single feed line.
func Encode(w io.Writer, ev keystroke.Event, timestampMs uint64) error {
	we := wireEvent{Event: ev}
	if timestampMs != 0 {
		we.TS = &timestampMs
	}
	b, err := json.Marshal(we)
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

// Parser turns single lines into events. It keeps the running line number so
// errors can point at the input.
type Parser struct {
	validate bool
	line     int
}

// NewParser returns a Parser. When validate is set every line is checked
// against the schema before it is decoded.
func NewParser(validate bool) (*Parser, error) {
	if validate {
		if _, err := Schema(); err != nil {
			return nil, err
		}
	}
	return &Parser{validate: validate}, nil
}

// Line returns the number of the last line parsed.
func (p *Parser) Line() int { return p.line }

// Parse decodes one line. It returns ok=false for blank and comment lines.
func (p *Parser) Parse(raw []byte) (item Item, ok bool, err error) {
	p.line++
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '#' {
		return Item{}, false, nil
	}
	fail := func(err error) (Item, bool, error) {
		return Item{}, false, &LineError{Line: p.line, Err: err}
	}

	if p.validate {
		var doc any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return fail(err)
		}
		if err := eventSchema.Validate(doc); err != nil {
			return fail(err)
		}
	}

	var we wireEvent
	if err := json.Unmarshal(raw, &we); err != nil {
		return fail(err)
	}
	if err := we.Event.Validate(); err != nil {
		return fail(err)
	}
	item = Item{Event: we.Event, Line: p.line}
	if we.TS != nil {
		item.TimestampMs = *we.TS
	}
	return item, true, nil
}

// Decoder reads events from a complete stream.
type Decoder struct {
	r      *bufio.Reader
	parser *Parser
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader, validate bool) (*Decoder, error) {
	p, err := NewParser(validate)
	if err != nil {
		return nil, err
	}
	return &Decoder{r: bufio.NewReader(r), parser: p}, nil
}

// Next returns the next event, or io.EOF at the end of the stream. A
// *LineError leaves the decoder usable; the caller may skip the bad line and
// call Next again.
func (d *Decoder) Next() (Item, error) {
	for {
		raw, err := d.r.ReadBytes('\n')
		if len(raw) == 0 && err != nil {
			return Item{}, err
		}
		item, ok, perr := d.parser.Parse(raw)
		if perr != nil {
			return Item{}, perr
		}
		if ok {
			return item, nil
		}
		if err != nil {
			return Item{}, err
		}
	}
}
