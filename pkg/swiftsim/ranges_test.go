package swiftsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		header  string
		offset  int64
		length  int64
		partial bool
		err     error
	}{
		{header: "", offset: 0, length: 26},
		{header: "bytes=0-9", offset: 0, length: 10, partial: true},
		{header: "bytes=13-", offset: 13, length: 13, partial: true},
		{header: "bytes=20-100", offset: 20, length: 6, partial: true},
		{header: "bytes=-4", offset: 22, length: 4, partial: true},
		{header: "bytes=-100", offset: 0, length: 26, partial: true},
		{header: "bytes=26-", err: errUnsatisfiableRange},
		{header: "bytes=-0", err: errUnsatisfiableRange},
		{header: "bytes=5-2", offset: 0, length: 26, err: errMalformedRange},
		{header: "bytes=0-1,4-5", offset: 0, length: 26, err: errMalformedRange},
		{header: "items=0-1", offset: 0, length: 26, err: errMalformedRange},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			offset, length, partial, err := parseRange(tt.header, 26)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				if tt.err == errUnsatisfiableRange {
					return
				}
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.offset, offset)
			assert.Equal(t, tt.length, length)
			assert.Equal(t, tt.partial, partial)
		})
	}
}

func TestVersionName(t *testing.T) {
	assert.Equal(t, "007doc.txt/00000000000000000042", versionName("doc.txt", 42))
	assert.Equal(t, "007doc.txt/", versionPrefix("doc.txt"))
	assert.Less(t, versionName("a", 9), versionName("a", 10))
}
