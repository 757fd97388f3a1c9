package sip_test

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sipuastack/uacore/header"
)

// customHeader is a test-only header used to exercise custom header parser
// registration (see the "custom header parser" subtests below).
type customHeader struct {
	Name string
	Num  int
	Str  string
}

func parseCustomHeader(name string, value []byte) header.Header {
	parts := strings.SplitN(strings.TrimSpace(string(value)), " ", 2)
	hdr := &customHeader{Name: name}
	if len(parts) > 0 {
		hdr.Num, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		hdr.Str = parts[1]
	}
	return hdr
}

func (hdr *customHeader) CanonicName() header.Name { return header.CanonicName(hdr.Name) }

func (hdr *customHeader) CompactName() header.Name { return hdr.CanonicName() }

func (hdr *customHeader) RenderValue() string {
	return fmt.Sprintf("%d %s", hdr.Num, hdr.Str)
}

func (hdr *customHeader) RenderTo(w io.Writer, _ *header.RenderOptions) (int, error) {
	return fmt.Fprint(w, hdr.CanonicName(), ": ", hdr.RenderValue())
}

func (hdr *customHeader) Render(_ *header.RenderOptions) string {
	return fmt.Sprintf("%s: %s", hdr.CanonicName(), hdr.RenderValue())
}

func (hdr *customHeader) Clone() header.Header {
	if hdr == nil {
		return nil
	}
	hdr2 := *hdr
	return &hdr2
}

func (hdr *customHeader) Equal(val any) bool {
	other, ok := val.(*customHeader)
	if !ok {
		return false
	}
	if hdr == other {
		return true
	} else if hdr == nil || other == nil {
		return false
	}
	return hdr.Name == other.Name && hdr.Num == other.Num && hdr.Str == other.Str
}

func (hdr *customHeader) IsValid() bool { return hdr != nil && hdr.Name != "" }
