package fluentd

import (
	"strconv"
	"strings"
)

// Destructuring is the capture hint carried by a property placeholder.
type Destructuring int

const (
	Default   Destructuring = iota // {Name}
	Structure                      // {@Name}
	Stringify                      // {$Name}
)

// Token is one element of a MessageTemplate: *TextToken or *PropertyToken.
type Token interface {
	token()
}

// TextToken is literal template text, with `{{` and `}}` already unescaped.
type TextToken struct {
	Text string
}

// PropertyToken is a named placeholder such as `{Elapsed,8:.2f}`.
type PropertyToken struct {
	Name          string
	Format        string
	Alignment     int // 0 means none; negative values left-align
	Destructuring Destructuring
	Raw           string
}

func (*TextToken) token()     {}
func (*PropertyToken) token() {}

// MessageTemplate is a parsed message template.
type MessageTemplate struct {
	Text   string
	Tokens []Token
}

// ParseTemplate splits text into text and property tokens. Holes that do not
// parse are kept as text, so ParseTemplate never fails.
func ParseTemplate(text string) *MessageTemplate {
	mt := &MessageTemplate{Text: text}

	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			mt.Tokens = append(mt.Tokens, &TextToken{Text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '{' && i+1 < len(text) && text[i+1] == '{':
			lit.WriteByte('{')
			i += 2
		case c == '}' && i+1 < len(text) && text[i+1] == '}':
			lit.WriteByte('}')
			i += 2
		case c == '{':
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				lit.WriteString(text[i:])
				i = len(text)
				continue
			}
			raw := text[i : i+end+2]
			if pt, ok := parseProperty(raw); ok {
				flush()
				mt.Tokens = append(mt.Tokens, pt)
			} else {
				lit.WriteString(raw)
			}
			i += len(raw)
		default:
			lit.WriteByte(c)
			i++
		}
	}
	flush()

	return mt
}

// parseProperty parses a hole including its braces.
func parseProperty(raw string) (*PropertyToken, bool) {
	body := raw[1 : len(raw)-1]
	pt := &PropertyToken{Raw: raw}

	if len(body) > 0 {
		switch body[0] {
		case '@':
			pt.Destructuring = Structure
			body = body[1:]
		case '$':
			pt.Destructuring = Stringify
			body = body[1:]
		}
	}

	if idx := strings.IndexByte(body, ':'); idx >= 0 {
		pt.Format = body[idx+1:]
		body = body[:idx]
		if pt.Format == "" || strings.ContainsAny(pt.Format, "{") {
			return nil, false
		}
	}

	if idx := strings.IndexByte(body, ','); idx >= 0 {
		n, err := strconv.Atoi(body[idx+1:])
		if err != nil || n == 0 {
			return nil, false
		}
		pt.Alignment = n
		body = body[:idx]
	}

	if !validPropertyName(body) {
		return nil, false
	}
	pt.Name = body
	return pt, true
}

func validPropertyName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '_' && (c < '0' || c > '9') && (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}

// Render returns the text of the placeholder for the given event properties:
// the bound value with Format and Alignment applied, or Raw when the property
// is missing.
func (pt *PropertyToken) Render(e *LogEvent) string {
	v, ok := e.property(pt.Name)
	if !ok {
		return pt.Raw
	}

	var sb strings.Builder
	if pt.Destructuring == Stringify {
		var inner strings.Builder
		renderValue(&inner, v, "")
		ScalarValue{V: inner.String()}.render(&sb, pt.Format)
	} else {
		renderValue(&sb, v, pt.Format)
	}
	return align(sb.String(), pt.Alignment)
}

func align(s string, n int) string {
	width := n
	if width < 0 {
		width = -width
	}
	pad := width - len([]rune(s))
	if pad <= 0 {
		return s
	}
	if n < 0 {
		return s + strings.Repeat(" ", pad)
	}
	return strings.Repeat(" ", pad) + s
}

// Render produces the full message text for the event.
func (mt *MessageTemplate) Render(e *LogEvent) string {
	var sb strings.Builder
	for _, t := range mt.Tokens {
		switch tok := t.(type) {
		case *TextToken:
			sb.WriteString(tok.Text)
		case *PropertyToken:
			sb.WriteString(tok.Render(e))
		}
	}
	return sb.String()
}

// formattedTokens returns, in template order, the placeholders carrying an
// explicit format string.
func (mt *MessageTemplate) formattedTokens() []*PropertyToken {
	if mt == nil {
		return nil
	}
	var out []*PropertyToken
	for _, t := range mt.Tokens {
		if pt, ok := t.(*PropertyToken); ok && pt.Format != "" {
			out = append(out, pt)
		}
	}
	return out
}
