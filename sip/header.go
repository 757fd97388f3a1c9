package sip

import "fmt"

type missingHeaderError struct {
	Header string
}

func (err *missingHeaderError) Error() string {
	return fmt.Sprintf("missing %q header", CanonicHeaderName(err.Header))
}

func (*missingHeaderError) Grammar() bool { return true }
