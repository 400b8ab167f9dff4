package protocol

import (
	"strings"

	"github.com/rskv-p/natscore/natserr"
)

// ValidPublishSubject rejects subjects that are empty, contain whitespace,
// CR, LF, or empty dot-delimited tokens, or carry wildcard tokens, which
// are only meaningful in subscription subjects.
func ValidPublishSubject(subject string) error {
	if err := validSubjectShape(subject); err != nil {
		return err
	}
	for _, tok := range strings.Split(subject, ".") {
		if tok == "*" || tok == ">" {
			return natserr.New(natserr.BadSubject, "wildcards not allowed in publish subject")
		}
	}
	return nil
}

// ValidSubscribeSubject allows the single-token wildcard "*" and the
// terminal multi-token wildcard ">" in addition to literal tokens.
func ValidSubscribeSubject(subject string) error {
	if err := validSubjectShape(subject); err != nil {
		return err
	}
	toks := strings.Split(subject, ".")
	for i, tok := range toks {
		if tok == ">" && i != len(toks)-1 {
			return natserr.New(natserr.BadSubject, "'>' wildcard must be the last token")
		}
	}
	return nil
}

func validSubjectShape(subject string) error {
	if subject == "" {
		return natserr.New(natserr.BadSubject, "subject is empty")
	}
	if strings.ContainsAny(subject, " \t\r\n") {
		return natserr.New(natserr.BadSubject, "subject contains whitespace or control characters")
	}
	for _, tok := range strings.Split(subject, ".") {
		if tok == "" {
			return natserr.New(natserr.BadSubject, "subject has an empty token")
		}
	}
	return nil
}
