package types

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeadersEmpty(t *testing.T) {
	tests := []struct {
		name  string
		h     Headers
		empty bool
	}{
		{"none", Headers{}, true},
		{"cookie", HeadersFor("sid=1", ""), false},
		{"user agent", HeadersFor("", "UA/1"), false},
		{"both", HeadersFor("sid=1", "UA/1"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.empty, tt.h.Empty())
		})
	}
}

func TestHeadersApplySetsOnlyPresentValues(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("User-Agent", "default")

	HeadersFor("sid=1", "").Apply(req)
	assert.Equal(t, "sid=1", req.Header.Get("Cookie"))
	assert.Equal(t, "default", req.Header.Get("User-Agent"))

	HeadersFor("", "UA/2").Apply(req)
	assert.Equal(t, "UA/2", req.Header.Get("User-Agent"))
}

func TestChannelRecordValid(t *testing.T) {
	assert.True(t, ChannelRecord{Name: "Alpha", Link: "https://a/1.m3u8"}.Valid())
	assert.False(t, ChannelRecord{Name: "Alpha"}.Valid())
	assert.False(t, ChannelRecord{Link: "https://a/1.m3u8"}.Valid())
}
