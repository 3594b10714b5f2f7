package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchEndpoint(t *testing.T) {
	tests := []struct {
		path    string
		pattern string
		want    bool
	}{
		{"/dcap", "/dcap", true},
		{"/dcap", "/dcap/", false},
		{"/edev/123/derp/1", "/edev/*/derp/1", true},
		{"/edev/123/derp/2", "/edev/*/derp/1", false},
		{"/edev/123", "/edev/1*3", false},
		{"/edev/123", "/edev/*", true},
		{"/edev/123/der", "/edev/*", false},
		{"/edev", "/edev/*", false},
		{"/a/b/c", "/*/*/*", true},
		{"//edev//123", "/edev/*", true},
		{"/edev/123", "/EDEV/*", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, MatchEndpoint(tc.path, tc.pattern), "path %q pattern %q", tc.path, tc.pattern)
	}
}
