package httpclient

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	c := New(5 * time.Second)

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"public https", "https://example.com/path", false},
		{"public http", "http://example.com", false},
		{"ftp scheme rejected", "ftp://example.com", true},
		{"file scheme rejected", "file:///etc/passwd", true},
		{"localhost blocked", "http://localhost:8080", true},
		{"loopback blocked", "http://127.0.0.1/", true},
		{"private 10 net blocked", "http://10.0.0.5/", true},
		{"private 192.168 blocked", "http://192.168.1.1/", true},
		{"credential injection blocked", "http://evil.com@localhost/", true},
		{"missing hostname", "http://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ValidateURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPrivateIPBlockingDisabled(t *testing.T) {
	off := false
	c := NewWithOptions(5*time.Second, Options{BlockPrivateIP: &off})

	_, err := c.ValidateURL("http://localhost:8651/health")
	require.NoError(t, err)

	_, err = c.ValidateURL("http://192.168.1.20:8652/match")
	require.NoError(t, err)
}

func TestIsPrivateIP(t *testing.T) {
	assert.True(t, isPrivateIP(net.ParseIP("127.0.0.1")))
	assert.True(t, isPrivateIP(net.ParseIP("10.1.2.3")))
	assert.True(t, isPrivateIP(net.ParseIP("172.16.0.1")))
	assert.True(t, isPrivateIP(net.ParseIP("::1")))
	assert.True(t, isPrivateIP(net.ParseIP("fd00::1")))
	assert.False(t, isPrivateIP(net.ParseIP("8.8.8.8")))
	assert.False(t, isPrivateIP(net.ParseIP("2607:f8b0::1")))
}
