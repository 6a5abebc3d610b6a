package rawquery

import (
	"strings"

	"krsp-query/internal/errs"
)

// readOnlyKeywords are the leading keywords a literal query may start with.
var readOnlyKeywords = map[string]bool{
	"SELECT":   true,
	"SHOW":     true,
	"DESCRIBE": true,
	"DESC":     true,
	"EXPLAIN":  true,
	"TABLE":    true,
	"VALUES":   true,
}

// Statement is literal query text that passed the guard.
type Statement struct {
	// Keyword is the leading keyword, upper-cased.
	Keyword string
	// Text is the statement without its trailing semicolon.
	Text string
}

// Check classifies text by its leading keyword, skipping whitespace and
// comments. Anything that does not start with a read-only keyword, or that
// carries a second statement after a semicolon, fails with a
// WriteRejectedError.
//
// Check looks at the statement's shape only. It is not a security boundary:
// a SELECT calling a function with side effects passes.
func Check(text string) (Statement, error) {
	sc := &scanner{src: text}
	if err := sc.skipSpaceAndComments(); err != nil {
		return Statement{}, err
	}
	start := sc.pos
	keyword := strings.ToUpper(sc.word())
	if keyword == "" {
		return Statement{}, &errs.WriteRejectedError{Reason: "no statement keyword found"}
	}
	if !readOnlyKeywords[keyword] {
		return Statement{}, &errs.WriteRejectedError{Keyword: keyword}
	}

	end, err := sc.statementEnd()
	if err != nil {
		return Statement{}, err
	}
	return Statement{Keyword: keyword, Text: strings.TrimSpace(text[start:end])}, nil
}

type scanner struct {
	src string
	pos int
}

func (s *scanner) peek(offset int) byte {
	if s.pos+offset >= len(s.src) {
		return 0
	}
	return s.src[s.pos+offset]
}

func (s *scanner) done() bool { return s.pos >= len(s.src) }

// skipSpaceAndComments advances past whitespace, "--" and "#" line comments
// and block comments. MySQL runs the body of "/*!" comments, so those are
// rejected.
func (s *scanner) skipSpaceAndComments() error {
	for !s.done() {
		switch ch := s.peek(0); {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f':
			s.pos++
		case ch == '#' || (ch == '-' && s.peek(1) == '-'):
			for !s.done() && s.peek(0) != '\n' {
				s.pos++
			}
		case ch == '/' && s.peek(1) == '*':
			if s.peek(2) == '!' {
				return &errs.WriteRejectedError{Reason: "executable comments are not allowed"}
			}
			s.pos += 2
			for !s.done() && (s.peek(0) != '*' || s.peek(1) != '/') {
				s.pos++
			}
			if s.done() {
				return &errs.WriteRejectedError{Reason: "unterminated comment"}
			}
			s.pos += 2
		default:
			return nil
		}
	}
	return nil
}

func (s *scanner) word() string {
	start := s.pos
	for !s.done() {
		ch := s.peek(0)
		if (ch < 'a' || ch > 'z') && (ch < 'A' || ch > 'Z') {
			break
		}
		s.pos++
	}
	return s.src[start:s.pos]
}

// statementEnd returns the offset where the first statement ends: the first
// semicolon outside quotes and comments, or the end of the text. Anything
// other than whitespace and comments after that semicolon is a second
// statement.
func (s *scanner) statementEnd() (int, error) {
	for !s.done() {
		switch ch := s.peek(0); {
		case ch == '\'' || ch == '"' || ch == '`':
			if err := s.skipQuoted(ch); err != nil {
				return 0, err
			}
		case ch == '#' || (ch == '-' && s.peek(1) == '-') || (ch == '/' && s.peek(1) == '*'):
			if err := s.skipSpaceAndComments(); err != nil {
				return 0, err
			}
		case ch == ';':
			end := s.pos
			s.pos++
			for !s.done() {
				if s.peek(0) == ';' {
					s.pos++
					continue
				}
				if err := s.skipSpaceAndComments(); err != nil {
					return 0, err
				}
				if !s.done() && s.peek(0) != ';' {
					return 0, &errs.WriteRejectedError{Reason: "multiple statements are not allowed"}
				}
			}
			return end, nil
		default:
			s.pos++
		}
	}
	return len(s.src), nil
}

// skipQuoted advances past a quoted string or identifier. Doubled quotes and
// backslash escapes stay inside the literal.
func (s *scanner) skipQuoted(quote byte) error {
	s.pos++
	for !s.done() {
		ch := s.peek(0)
		switch {
		case ch == '\\' && quote != '`':
			s.pos += 2
		case ch == quote && s.peek(1) == quote:
			s.pos += 2
		case ch == quote:
			s.pos++
			return nil
		default:
			s.pos++
		}
	}
	return &errs.WriteRejectedError{Reason: "unterminated quoted text"}
}
