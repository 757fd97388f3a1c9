package sip_test

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"

	"github.com/sipuastack/uacore/header"
	"github.com/sipuastack/uacore/internal/grammar"
	"github.com/sipuastack/uacore/sip"
)

func TestParsePacket(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		msg, err := sip.ParsePacket(nil, nil)
		if msg != nil {
			t.Fatalf("ParsePacket(nil) msg = %+v, want nil", msg)
		}
		var perr *sip.ParseError
		if !errors.As(err, &perr) || !errors.Is(perr.Err, grammar.ErrEmptyInput) {
			t.Fatalf("ParsePacket(nil) error = %v, want ParseError wrapping grammar.ErrEmptyInput", err)
		}
		if perr.State != sip.ParseStateStart {
			t.Fatalf("ParseError.State = %v, want ParseStateStart", perr.State)
		}
	})

	t.Run("malformed start line", func(t *testing.T) {
		t.Parallel()
		_, err := sip.ParsePacket([]byte("INVITE qwerty"), nil)
		var perr *sip.ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("error = %v, want *sip.ParseError", err)
		}
		if perr.State != sip.ParseStateStart {
			t.Fatalf("ParseError.State = %v, want ParseStateStart", perr.State)
		}
	})

	t.Run("incomplete headers", func(t *testing.T) {
		t.Parallel()
		in := []byte("INVITE sip:bob@b.example.com SIP/2.0\r\n" +
			"Via: SIP/2.0/UDP a.example.com;branch=qwerty\r\n")
		msg, err := sip.ParsePacket(in, nil)
		var perr *sip.ParseError
		if !errors.As(err, &perr) || !errors.Is(perr.Err, grammar.ErrMalformedInput) {
			t.Fatalf("error = %v, want ParseError wrapping grammar.ErrMalformedInput", err)
		}
		if perr.State != sip.ParseStateHeaders {
			t.Fatalf("ParseError.State = %v, want ParseStateHeaders", perr.State)
		}
		req, ok := msg.(*sip.Request)
		if !ok {
			t.Fatalf("incomplete message type = %T, want *sip.Request", msg)
		}
		if len(req.Headers.Via()) != 1 {
			t.Fatalf("incomplete message should still carry the one parsed Via header, got %+v", req.Headers)
		}
	})

	t.Run("valid request with implicit body length", func(t *testing.T) {
		t.Parallel()
		in := []byte("INVITE sip:bob@b.example.com SIP/2.0\r\n" +
			"Via: SIP/2.0/UDP a.example.com;branch=qwerty\r\n" +
			"\r\n" +
			"hello\r\nworld")
		msg, err := sip.ParsePacket(in, nil)
		if err != nil {
			t.Fatalf("ParsePacket() error = %v, want nil", err)
		}
		req, ok := msg.(*sip.Request)
		if !ok {
			t.Fatalf("ParsePacket() type = %T, want *sip.Request", msg)
		}
		if string(req.Body) != "hello\r\nworld" {
			t.Fatalf("Body = %q, want %q", req.Body, "hello\r\nworld")
		}
	})

	t.Run("incomplete body", func(t *testing.T) {
		t.Parallel()
		in := []byte("INVITE sip:bob@b.example.com SIP/2.0\r\n" +
			"Via: SIP/2.0/UDP a.example.com;branch=qwerty\r\n" +
			"Content-Length: 20\r\n" +
			"\r\n" +
			"Hello world!")
		msg, err := sip.ParsePacket(in, nil)
		var perr *sip.ParseError
		if !errors.As(err, &perr) || !errors.Is(perr.Err, grammar.ErrMalformedInput) {
			t.Fatalf("error = %v, want ParseError wrapping grammar.ErrMalformedInput", err)
		}
		if perr.State != sip.ParseStateBody {
			t.Fatalf("ParseError.State = %v, want ParseStateBody", perr.State)
		}
		if req, ok := msg.(*sip.Request); !ok || string(req.Body[:12]) != "Hello world!" {
			t.Fatalf("incomplete message = %+v, want partial body read back", msg)
		}
	})

	t.Run("content length too large", func(t *testing.T) {
		t.Parallel()
		contentLen := sip.MaxMsgSize + 1
		in := []byte("INVITE sip:bob@b.example.com SIP/2.0\r\n" +
			"Via: SIP/2.0/UDP a.example.com;branch=qwerty\r\n" +
			"Content-Length: " + strconv.FormatUint(uint64(contentLen), 10) + "\r\n" +
			"\r\n")
		_, err := sip.ParsePacket(in, nil)
		var perr *sip.ParseError
		if !errors.As(err, &perr) || !errors.Is(perr.Err, sip.ErrEntityTooLarge) {
			t.Fatalf("error = %v, want ParseError wrapping sip.ErrEntityTooLarge", err)
		}
	})

	t.Run("custom header parser", func(t *testing.T) {
		t.Parallel()
		in := []byte("SIP/2.0 200 OK\r\n" +
			"Via: SIP/2.0/UDP c.example.com;branch=zxcvb\r\n" +
			"P-Custom-Header: 123 abc\r\n" +
			"X-Generic-Header: qwe\r\n" +
			"Content-Length: 5\r\n" +
			"\r\n" +
			"done\r\n")
		hdrPrs := map[string]sip.HeaderParser{"p-custom-header": parseCustomHeader}
		msg, err := sip.ParsePacket(in, hdrPrs)
		if err != nil {
			t.Fatalf("ParsePacket() error = %v, want nil", err)
		}
		res, ok := msg.(*sip.Response)
		if !ok {
			t.Fatalf("ParsePacket() type = %T, want *sip.Response", msg)
		}
		want := &customHeader{Name: "P-Custom-Header", Num: 123, Str: "abc"}
		if hs := res.Headers.Get("P-Custom-Header"); len(hs) != 1 || !hs[0].Equal(want) {
			t.Fatalf("P-Custom-Header = %+v, want %+v", hs, want)
		}
		if hs := res.Headers.Get("X-Generic-Header"); len(hs) != 1 {
			t.Fatalf("X-Generic-Header should fall back to header.Any, got %+v", hs)
		} else if _, ok := hs[0].(*header.Any); !ok {
			t.Fatalf("X-Generic-Header type = %T, want *header.Any", hs[0])
		}
	})
}

func TestParseStream(t *testing.T) {
	t.Parallel()

	inputs := [][]byte{
		[]byte("OPTIONS sip:bob"), []byte("@example.com SIP/2.0\r\n"),
		[]byte("Content-Length: 0\r\n"),
		[]byte("\r\n"),

		[]byte("SIP/2.0 200 OK\r\nContent-Length: 0\r\n\r\n"),

		[]byte("INVITE sip:alice@example.com SIP/2.0\r\n"),
		[]byte("Via: SIP/2.0/UDP localhost:5060\r\n"),
		[]byte("Content-Length: 5\r\n"),
		[]byte("\r\n"),
		[]byte("12345"),
	}

	pr, pw := io.Pipe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, in := range inputs {
			if _, err := pw.Write(in); err != nil {
				return
			}
		}
		pw.Close()
	}()

	var msgs []sip.Message
	var lastErr error
	for msg, err := range sip.ParseStream(pr, nil) {
		if err != nil {
			lastErr = err
			break
		}
		msgs = append(msgs, msg)
	}
	wg.Wait()

	if !errors.Is(lastErr, io.EOF) {
		t.Fatalf("final stream error = %v, want io.EOF", lastErr)
	}
	if len(msgs) != 3 {
		t.Fatalf("parsed %d messages, want 3", len(msgs))
	}

	req, ok := msgs[0].(*sip.Request)
	if !ok || req.Method != "OPTIONS" {
		t.Fatalf("msgs[0] = %+v, want an OPTIONS request", msgs[0])
	}
	res, ok := msgs[1].(*sip.Response)
	if !ok || res.Status != 200 || len(res.Body) != 0 {
		t.Fatalf("msgs[1] = %+v, want an empty-body 200 OK response", msgs[1])
	}
	invite, ok := msgs[2].(*sip.Request)
	if !ok || invite.Method != "INVITE" || string(invite.Body) != "12345" {
		t.Fatalf("msgs[2] = %+v, want INVITE request with body 12345", msgs[2])
	}
}

func TestParseStream_MalformedStartLine(t *testing.T) {
	t.Parallel()

	r := bytes.NewReader([]byte("garbage\r\n"))
	var gotErr error
	for _, err := range sip.ParseStream(r, nil) {
		gotErr = err
		break
	}
	var perr *sip.ParseError
	if !errors.As(gotErr, &perr) {
		t.Fatalf("error = %v, want *sip.ParseError", gotErr)
	}
}

func TestParseError_Error(t *testing.T) {
	t.Parallel()

	err := &sip.ParseError{Err: grammar.ErrMalformedInput, State: sip.ParseStateStart}
	if err.Unwrap() != grammar.ErrMalformedInput {
		t.Fatalf("Unwrap() = %v, want grammar.ErrMalformedInput", err.Unwrap())
	}
	if err.Error() == "" {
		t.Fatal("Error() = empty string, want non-empty")
	}
}
