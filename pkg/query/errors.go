package query

import "fmt"

// SyntaxError is returned when the input is ill-formed at the lexical
// level: an unterminated string, an invalid escape, a malformed number.
type SyntaxError struct {
	Pos     int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Message)
}

// UnexpectedTokenError is returned when the tokens are individually
// well-formed but do not match any grammar production at this position.
type UnexpectedTokenError struct {
	Pos     int
	Message string
}

func (e *UnexpectedTokenError) Error() string {
	return fmt.Sprintf("unexpected token at offset %d: %s", e.Pos, e.Message)
}
