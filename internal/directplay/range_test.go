package directplay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		fileSize int64
		want     *ByteRange
		wantErr  error
	}{
		{"no header", "", 1000, nil, nil},
		{"start and end", "bytes=0-499", 1000, &ByteRange{0, 499}, nil},
		{"open ended", "bytes=500-", 1000, &ByteRange{500, 999}, nil},
		{"suffix", "bytes=-500", 1000, &ByteRange{500, 999}, nil},
		{"suffix last hundred", "bytes=-100", 1000, &ByteRange{900, 999}, nil},
		{"suffix longer than file", "bytes=-5000", 1000, &ByteRange{0, 999}, nil},
		{"end clamped", "bytes=900-2000", 1000, &ByteRange{900, 999}, nil},
		{"single byte", "bytes=0-0", 1000, &ByteRange{0, 0}, nil},
		{"last byte", "bytes=999-999", 1000, &ByteRange{999, 999}, nil},

		{"missing unit", "0-499", 1000, nil, ErrInvalidRange},
		{"wrong unit", "items=0-499", 1000, nil, ErrInvalidRange},
		{"no dash", "bytes=500", 1000, nil, ErrInvalidRange},
		{"garbage start", "bytes=abc-499", 1000, nil, ErrInvalidRange},
		{"garbage end", "bytes=0-def", 1000, nil, ErrInvalidRange},
		{"multipart", "bytes=0-99,200-299", 1000, nil, ErrInvalidRange},
		{"negative start", "bytes=--5-10", 1000, nil, ErrInvalidRange},

		{"start at file size", "bytes=1000-", 1000, nil, ErrRangeNotSatisfiable},
		{"start past file size", "bytes=5000-6000", 1000, nil, ErrRangeNotSatisfiable},
		{"start after end", "bytes=500-100", 1000, nil, ErrRangeNotSatisfiable},
		{"zero suffix", "bytes=-0", 1000, nil, ErrRangeNotSatisfiable},
		{"empty file", "bytes=-100", 0, nil, ErrRangeNotSatisfiable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.header, tt.fileSize)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestByteRange_RoundTrip(t *testing.T) {
	// Parsing then re-deriving Content-Range reproduces the bounds for
	// every valid form.
	tests := []struct {
		header string
		want   string
	}{
		{"bytes=0-499", "bytes 0-499/1000"},
		{"bytes=500-", "bytes 500-999/1000"},
		{"bytes=-500", "bytes 500-999/1000"},
	}
	for _, tt := range tests {
		rng, err := ParseRange(tt.header, 1000)
		require.NoError(t, err, tt.header)
		assert.Equal(t, tt.want, rng.ContentRange(1000))
	}
}

func TestByteRange_Length(t *testing.T) {
	assert.Equal(t, int64(500), ByteRange{0, 499}.Length())
	assert.Equal(t, int64(1), ByteRange{42, 42}.Length())
}
