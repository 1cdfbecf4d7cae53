// Package options parses the unordered set of open-flag tokens accepted by
// file-open operations into a normalized, validated record.
package options

import "fmt"

// Token is one member of the open-option universe a caller can request.
type Token string

// The open-option universe. SPARSE, SYNC and DSYNC are accepted for API
// compatibility with callers written against a generic
// filesystem-options vocabulary, but the SFTP façade treats them as no-ops:
// the protocol has no wire-level equivalent.
const (
	READ             Token = "READ"
	WRITE            Token = "WRITE"
	APPEND           Token = "APPEND"
	TRUNCATE_EXISTING Token = "TRUNCATE_EXISTING"
	CREATE           Token = "CREATE"
	CREATE_NEW       Token = "CREATE_NEW"
	DELETE_ON_CLOSE  Token = "DELETE_ON_CLOSE"
	SPARSE           Token = "SPARSE"
	SYNC             Token = "SYNC"
	DSYNC            Token = "DSYNC"
)

var known = map[Token]bool{
	READ: true, WRITE: true, APPEND: true, TRUNCATE_EXISTING: true,
	CREATE: true, CREATE_NEW: true, DELETE_ON_CLOSE: true,
	SPARSE: true, SYNC: true, DSYNC: true,
}

// UnsupportedOptionError is returned when parse encounters a token outside
// the known universe.
type UnsupportedOptionError struct {
	Token Token
}

func (e *UnsupportedOptionError) Error() string {
	return fmt.Sprintf("unsupported open option %q", string(e.Token))
}

// InvalidCombinationError is returned when two tokens that parse accepted
// individually are incompatible together.
type InvalidCombinationError struct {
	Reason string
}

func (e *InvalidCombinationError) Error() string {
	return "invalid open option combination: " + e.Reason
}

// CallSite distinguishes the two entry points that supply defaults when no
// READ/WRITE/APPEND token is present.
type CallSite int

const (
	// ForRead is the default used by an input-stream open.
	ForRead CallSite = iota
	// ForWrite is the default used by an output-stream open.
	ForWrite
)

// Options is the immutable, normalized record produced by Parse.
type Options struct {
	Read           bool
	Write          bool
	Append         bool
	Truncate       bool
	Create         bool
	CreateNew      bool
	DeleteOnClose  bool
	Sparse         bool
	Sync           bool
	Dsync          bool
	tokens         []Token // retained for error reporting, see Tokens()
}

// Tokens returns the original token collection supplied to Parse, in order.
func (o Options) Tokens() []Token {
	out := make([]Token, len(o.tokens))
	copy(out, o.tokens)
	return out
}

// Parse validates an unordered collection of tokens and derives the
// normalized Options record for the given call site. Parse is idempotent:
// parsing the tokens of an already-parsed Options (via Tokens()) yields an
// equal Options.
func Parse(tokens []Token, site CallSite) (Options, error) {
	var o Options
	o.tokens = append(o.tokens, tokens...)

	for _, t := range tokens {
		if !known[t] {
			return Options{}, &UnsupportedOptionError{Token: t}
		}
		switch t {
		case READ:
			o.Read = true
		case WRITE:
			o.Write = true
		case APPEND:
			o.Append = true
		case TRUNCATE_EXISTING:
			o.Truncate = true
		case CREATE:
			o.Create = true
		case CREATE_NEW:
			o.CreateNew = true
		case DELETE_ON_CLOSE:
			o.DeleteOnClose = true
		case SPARSE:
			o.Sparse = true
		case SYNC:
			o.Sync = true
		case DSYNC:
			o.Dsync = true
		}
	}

	if !o.Read && !o.Write && !o.Append {
		switch site {
		case ForRead:
			o.Read = true
		case ForWrite:
			o.Write = true
		}
	}

	if o.Append {
		o.Write = true
	}

	if err := validate(o); err != nil {
		return Options{}, err
	}
	return o, nil
}

func validate(o Options) error {
	if o.Read && o.Append {
		return &InvalidCombinationError{Reason: "READ and APPEND are mutually exclusive"}
	}
	if o.Read && o.Truncate {
		return &InvalidCombinationError{Reason: "READ and TRUNCATE_EXISTING are mutually exclusive"}
	}
	if o.Append && o.Truncate {
		return &InvalidCombinationError{Reason: "APPEND and TRUNCATE_EXISTING are mutually exclusive"}
	}
	if o.CreateNew && !o.Write {
		return &InvalidCombinationError{Reason: "CREATE_NEW requires WRITE intent"}
	}
	return nil
}
