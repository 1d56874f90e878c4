package conversation

import "strings"

const (
	DefaultThinkingOpen  = "<think>"
	DefaultThinkingClose = "</think>"
)

// MalformedPolicy decides what happens to content with an opening delimiter
// that is never closed.
type MalformedPolicy int

const (
	MalformedLiteral            MalformedPolicy = iota // keep the content unchanged
	MalformedUnclosedAsThinking                        // treat the rest of the content as thinking
)

func ParseMalformedPolicy(s string) (MalformedPolicy, bool) {
	switch s {
	case "", "literal":
		return MalformedLiteral, true
	case "unclosed-as-thinking":
		return MalformedUnclosedAsThinking, true
	default:
		return MalformedLiteral, false
	}
}

func (p MalformedPolicy) String() string {
	if p == MalformedUnclosedAsThinking {
		return "unclosed-as-thinking"
	}
	return "literal"
}

// Parser separates a delimited reasoning segment from the visible content of
// a message.
//
// Only the first opening delimiter and the first closing delimiter after it
// are considered. Anything between them, including a nested opening
// delimiter, becomes the thinking segment. A closing delimiter that appears
// before any opening delimiter is ordinary text.
type Parser struct {
	Open      string
	Close     string
	Malformed MalformedPolicy
}

type ParserOption func(*Parser)

func WithDelimiters(open, close string) ParserOption {
	return func(p *Parser) {
		p.Open = open
		p.Close = close
	}
}

func WithMalformedPolicy(policy MalformedPolicy) ParserOption {
	return func(p *Parser) {
		p.Malformed = policy
	}
}

func NewParser(options ...ParserOption) *Parser {
	ret := &Parser{
		Open:  DefaultThinkingOpen,
		Close: DefaultThinkingClose,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

var defaultParser = NewParser()

// ParseThinking runs the default <think>...</think> parser.
func ParseThinking(msg Message) Message {
	return defaultParser.Parse(msg)
}

// Parse returns msg with the reasoning segment moved into ThinkingContent.
// The input is never modified. Messages that already carry ThinkingContent
// are returned as is, which makes Parse idempotent.
func (p *Parser) Parse(msg Message) Message {
	if msg.Content == "" || msg.ThinkingContent != nil {
		return msg
	}
	open, close_ := p.Open, p.Close
	if open == "" || close_ == "" {
		open, close_ = DefaultThinkingOpen, DefaultThinkingClose
	}

	start := strings.Index(msg.Content, open)
	if start < 0 {
		return msg
	}
	before := msg.Content[:start]
	rest := msg.Content[start+len(open):]

	end := strings.Index(rest, close_)
	if end < 0 {
		if p.Malformed == MalformedUnclosedAsThinking {
			return withThinking(msg, before, rest)
		}
		return msg
	}

	return withThinking(msg, before+rest[end+len(close_):], rest[:end])
}

func withThinking(msg Message, content string, thinking string) Message {
	ret := msg.clone()
	ret.Content = content
	ret.ThinkingContent = &thinking
	return ret
}
