package agentloop

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Protocol markers.
const (
	MarkerActionClose = "</action>"
	MarkerParamClose  = "</param>"
	MarkerDone        = "<ENDOFOP>"
	MarkerDoneClose   = "</ENDOFOP>"

	// maxHeaderLen bounds an open tag's attribute text.
	maxHeaderLen = 256
)

var (
	actionOpeners = []string{"<action>", "<action ", "<action\t", "<action\n", "<action\r"}
	paramOpeners  = []string{"<param ", "<param\t", "<param\n", "<param\r"}

	outsideMarkers  = append(append([]string{}, actionOpeners...), MarkerDone, MarkerDoneClose)
	disabledMarkers = []string{MarkerDone, MarkerDoneClose}
	blockMarkers    = append(append([]string{}, paramOpeners...), MarkerActionClose)
	paramMarkers    = []string{MarkerParamClose}

	fenceOpen  = regexp.MustCompile("^```[A-Za-z0-9_-]*\\r?\\n?")
	fenceClose = regexp.MustCompile("\\r?\\n?```$")
)

// ParseEvent is one item produced by the Parser.
type ParseEvent interface {
	isParseEvent()
}

// TextEvent carries narrative text. Unterminated and Malformed mark the raw
// span of an action block that could not become a call.
type TextEvent struct {
	Text         string
	Unterminated bool
	Malformed    bool
	Err          *ParseError
}

// ToolCallEvent carries a complete, well-formed action.
type ToolCallEvent struct {
	Call ToolCallRecord
}

// CompletionEvent marks the task-complete marker. Text that follows it in
// the same response is the completion summary.
type CompletionEvent struct{}

func (TextEvent) isParseEvent()       {}
func (ToolCallEvent) isParseEvent()   {}
func (CompletionEvent) isParseEvent() {}

// ParserOptions configures action recognition.
type ParserOptions struct {
	// MultipleActions keeps recognizing action blocks after the first call.
	// By default later blocks in the same response are plain text.
	MultipleActions bool
}

type parserState int

const (
	stateOutside parserState = iota
	stateInsideBlock
	stateInsideParam
)

type headerKind int

const (
	headerNone headerKind = iota
	headerAction
	headerParam
)

type param struct {
	name  string
	value string
}

// Parser incrementally converts model output fragments into events. One
// Parser handles exactly one model response; fragment boundaries may fall
// anywhere, including inside a marker.
type Parser struct {
	seq  *Sequence
	opts ParserOptions

	state   parserState
	pending string // possible partial marker
	partial []byte // incomplete UTF-8 sequence from the previous fragment
	text    strings.Builder
	events  []ParseEvent

	header    strings.Builder
	headerFor headerKind

	raw       strings.Builder
	body      strings.Builder
	name      string
	hasName   bool
	params    []param
	paramName string
	paramOK   bool
	value     strings.Builder
	blockErr  string

	calls    int
	finished bool
}

// NewParser creates a parser drawing call ids from seq.
func NewParser(seq *Sequence, opts ParserOptions) *Parser {
	if seq == nil {
		seq = &Sequence{}
	}
	return &Parser{seq: seq, opts: opts}
}

// Feed consumes one fragment and returns the events it completes. Text that
// might begin a marker is held back until the next fragment disambiguates it.
func (p *Parser) Feed(fragment string) []ParseEvent {
	if p.finished {
		return nil
	}
	data := fragment
	if len(p.partial) > 0 {
		data = string(p.partial) + fragment
		p.partial = p.partial[:0]
	}
	for len(data) > 0 {
		if !utf8.FullRuneInString(data) {
			p.partial = append(p.partial, data...)
			break
		}
		r, size := utf8.DecodeRuneInString(data)
		p.step(r)
		data = data[size:]
	}
	p.flushText()
	return p.drain()
}

// Finish ends the response. Held-back text is released and an open block is
// surfaced as unterminated text.
func (p *Parser) Finish() []ParseEvent {
	if p.finished {
		return nil
	}
	p.finished = true
	tail := p.pending + string(p.partial)
	p.pending, p.partial = "", nil

	switch p.state {
	case stateOutside:
		p.text.WriteString(tail)
		p.flushText()
	default:
		p.raw.WriteString(tail)
		raw := p.raw.String()
		p.events = append(p.events, TextEvent{
			Text:         raw,
			Unterminated: true,
			Err:          &ParseError{Kind: ParseUnterminated, Detail: "response ended inside action block", Raw: raw},
		})
		p.state = stateOutside
	}
	return p.drain()
}

// Calls returns how many calls this parser has emitted.
func (p *Parser) Calls() int { return p.calls }

func (p *Parser) drain() []ParseEvent {
	out := p.events
	p.events = nil
	return out
}

func (p *Parser) flushText() {
	if p.text.Len() == 0 {
		return
	}
	p.events = append(p.events, TextEvent{Text: p.text.String()})
	p.text.Reset()
}

func (p *Parser) markers() []string {
	switch p.state {
	case stateInsideBlock:
		return blockMarkers
	case stateInsideParam:
		return paramMarkers
	}
	if p.calls > 0 && !p.opts.MultipleActions {
		return disabledMarkers
	}
	return outsideMarkers
}

func (p *Parser) step(r rune) {
	if p.headerFor != headerNone {
		p.headerRune(r)
		return
	}
	p.pending += string(r)
	for p.pending != "" {
		markers := p.markers()
		if m, ok := matchMarker(p.pending, markers); ok {
			p.pending = ""
			p.onMarker(m)
			return
		}
		if isMarkerPrefix(p.pending, markers) {
			return
		}
		first, size := utf8.DecodeRuneInString(p.pending)
		p.pending = p.pending[size:]
		p.literal(first)
	}
}

func (p *Parser) literal(r rune) {
	switch p.state {
	case stateOutside:
		p.text.WriteRune(r)
	case stateInsideBlock:
		p.raw.WriteRune(r)
		p.body.WriteRune(r)
	case stateInsideParam:
		p.raw.WriteRune(r)
		p.value.WriteRune(r)
	}
}

func (p *Parser) onMarker(m string) {
	switch {
	case m == MarkerDone:
		p.flushText()
		p.events = append(p.events, CompletionEvent{})
	case m == MarkerDoneClose:
		p.flushText()
	case m == "<action>":
		p.flushText()
		p.beginBlock(m)
	case strings.HasPrefix(m, "<action"):
		p.flushText()
		p.beginBlock(m)
		p.header.Reset()
		p.headerFor = headerAction
	case strings.HasPrefix(m, "<param"):
		p.raw.WriteString(m)
		p.header.Reset()
		p.headerFor = headerParam
	case m == MarkerActionClose:
		p.raw.WriteString(m)
		p.closeBlock()
	case m == MarkerParamClose:
		p.raw.WriteString(m)
		p.closeParam()
	}
}

func (p *Parser) beginBlock(opener string) {
	p.raw.Reset()
	p.body.Reset()
	p.raw.WriteString(opener)
	p.name = ""
	p.hasName = false
	p.params = nil
	p.blockErr = ""
	p.state = stateInsideBlock
}

func (p *Parser) fail(detail string) {
	if p.blockErr == "" {
		p.blockErr = detail
	}
}

func (p *Parser) headerRune(r rune) {
	p.raw.WriteRune(r)
	kind := p.headerFor
	if r == '>' {
		p.headerFor = headerNone
		attrs, ok := parseAttributes(p.header.String())
		name, hasName := attrs["name"]
		switch kind {
		case headerAction:
			if !ok {
				p.fail("unreadable action attributes")
			}
			p.name, p.hasName = name, hasName
		case headerParam:
			p.paramName = name
			p.paramOK = ok && hasName && strings.TrimSpace(name) != ""
			if !p.paramOK {
				p.fail("parameter without a name")
			}
			p.value.Reset()
			p.state = stateInsideParam
		}
		return
	}

	p.header.WriteRune(r)
	if p.header.Len() <= maxHeaderLen {
		return
	}
	p.headerFor = headerNone
	switch kind {
	case headerAction:
		raw := p.raw.String()
		p.events = append(p.events, TextEvent{
			Text:      raw,
			Malformed: true,
			Err:       &ParseError{Kind: ParseMalformed, Detail: "action header too long", Raw: raw},
		})
		p.state = stateOutside
	case headerParam:
		p.fail("parameter header too long")
	}
}

func (p *Parser) closeParam() {
	p.state = stateInsideBlock
	if !p.paramOK {
		return
	}
	name := strings.TrimSpace(p.paramName)
	for _, existing := range p.params {
		if existing.name == name {
			p.fail(fmt.Sprintf("duplicate parameter %q", name))
			return
		}
	}
	p.params = append(p.params, param{name: name, value: trimOneNewline(p.value.String())})
}

func (p *Parser) closeBlock() {
	raw := p.raw.String()
	p.state = stateOutside

	call, err := p.buildCall(raw)
	if err != nil {
		p.events = append(p.events, TextEvent{
			Text:      raw,
			Malformed: true,
			Err:       &ParseError{Kind: ParseMalformed, Detail: err.Error(), Raw: raw},
		})
		return
	}
	call.Seq = p.seq.Next()
	p.calls++
	p.events = append(p.events, ToolCallEvent{Call: call})
}

func (p *Parser) buildCall(raw string) (ToolCallRecord, error) {
	if p.blockErr != "" {
		return ToolCallRecord{}, fmt.Errorf("%s", p.blockErr)
	}
	body := strings.TrimSpace(p.body.String())

	if !p.hasName {
		if len(p.params) > 0 {
			return ToolCallRecord{}, fmt.Errorf("action without a tool name")
		}
		return parseCompatBody(body, raw)
	}

	name := strings.TrimSpace(p.name)
	if name == "" {
		return ToolCallRecord{}, fmt.Errorf("empty tool name")
	}
	args := make(map[string]string, len(p.params))
	for _, kv := range p.params {
		args[kv.name] = kv.value
	}
	if body != "" {
		if len(p.params) > 0 {
			return ToolCallRecord{}, fmt.Errorf("unexpected text between parameters")
		}
		obj, err := decodeObject(stripFence(body))
		if err != nil {
			return ToolCallRecord{}, fmt.Errorf("action body is neither parameters nor a JSON object")
		}
		args = stringifyArgs(obj)
	}
	return ToolCallRecord{Name: name, Args: args, Raw: raw}, nil
}

// parseCompatBody accepts the JSON action form:
// {"tool": "...", "args": {...}}, optionally inside a code fence, with
// "name"/"function" and "arguments"/"parameters" as alternate keys.
func parseCompatBody(body, raw string) (ToolCallRecord, error) {
	obj, err := decodeObject(stripFence(body))
	if err != nil {
		return ToolCallRecord{}, fmt.Errorf("action without a tool name")
	}

	var name string
	for _, key := range []string{"tool", "name", "function"} {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			name = strings.TrimSpace(s)
			break
		}
	}
	if name == "" {
		return ToolCallRecord{}, fmt.Errorf("JSON action without a tool name")
	}

	args := map[string]string{}
	for _, key := range []string{"args", "arguments", "parameters"} {
		v, ok := obj[key]
		if !ok || v == nil {
			continue
		}
		switch a := v.(type) {
		case map[string]any:
			args = stringifyArgs(a)
		case string:
			inner, err := decodeObject(a)
			if err != nil {
				return ToolCallRecord{}, fmt.Errorf("%s is not a JSON object", key)
			}
			args = stringifyArgs(inner)
		default:
			return ToolCallRecord{}, fmt.Errorf("%s is not a JSON object", key)
		}
		break
	}
	return ToolCallRecord{Name: name, Args: args, Raw: raw}, nil
}

func stripFence(s string) string {
	s = fenceOpen.ReplaceAllString(s, "")
	s = fenceClose.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func decodeObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("not an object")
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after object")
	}
	return obj, nil
}

func stringifyArgs(obj map[string]any) map[string]string {
	args := make(map[string]string, len(obj))
	for k, v := range obj {
		args[k] = stringifyValue(v)
	}
	return args
}

// stringifyValue renders non-string JSON values as their JSON text.
func stringifyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimRight(buf.String(), "\n")
}

func trimOneNewline(s string) string {
	switch {
	case strings.HasPrefix(s, "\r\n"):
		s = s[2:]
	case strings.HasPrefix(s, "\n"):
		s = s[1:]
	}
	switch {
	case strings.HasSuffix(s, "\r\n"):
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "\n"):
		s = s[:len(s)-1]
	}
	return s
}

func matchMarker(s string, markers []string) (string, bool) {
	for _, m := range markers {
		if s == m {
			return m, true
		}
	}
	return "", false
}

func isMarkerPrefix(s string, markers []string) bool {
	for _, m := range markers {
		if strings.HasPrefix(m, s) {
			return true
		}
	}
	return false
}

// parseAttributes reads key="v", key='v' and key=v pairs. Keys are
// lower-cased. It reports false on an unclosed quote or a dangling '='.
func parseAttributes(s string) (map[string]string, bool) {
	attrs := map[string]string{}
	i := 0
	for {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i >= len(s) {
			return attrs, true
		}
		start := i
		for i < len(s) && !isSpace(s[i]) && s[i] != '=' {
			i++
		}
		key := strings.ToLower(s[start:i])
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i >= len(s) || s[i] != '=' {
			// Bare attribute without a value.
			attrs[key] = ""
			continue
		}
		i++ // '='
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i >= len(s) {
			return attrs, false
		}
		if q := s[i]; q == '"' || q == '\'' {
			end := strings.IndexByte(s[i+1:], q)
			if end < 0 {
				return attrs, false
			}
			attrs[key] = s[i+1 : i+1+end]
			i += end + 2
			continue
		}
		start = i
		for i < len(s) && !isSpace(s[i]) {
			i++
		}
		attrs[key] = s[start:i]
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
