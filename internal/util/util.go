package util

import (
	"bytes"
	"sync"
)

func Must(e error) {
	if e != nil {
		panic(e)
	}
}

func Must2[T any](v T, e error) T {
	if e != nil {
		panic(e)
	}
	return v
}

var bytesBufPool = &sync.Pool{
	New: func() any { return bytes.NewBuffer(make([]byte, 0, 128)) },
}

func GetBytesBuffer() *bytes.Buffer {
	return bytesBufPool.Get().(*bytes.Buffer) //nolint:forcetypeassert
}

func FreeBytesBuffer(b *bytes.Buffer) {
	b.Reset()
	if b.Cap() > 1<<16 {
		return
	}
	bytesBufPool.Put(b)
}
