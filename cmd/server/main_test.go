package main

import (
	"testing"

	"github.com/docopt/docopt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	parser := &docopt.Parser{HelpHandler: docopt.NoHelpHandler}

	s, err := parseArgs(parser, nil)
	require.NoError(t, err)
	assert.Equal(t, settings{port: 8080, dbURL: "mem://demo/items", verbosity: "0"}, s)

	s, err = parseArgs(parser, []string{"--port=9000", "--db=mem://x/list", "--verbosity=2"})
	require.NoError(t, err)
	assert.Equal(t, settings{port: 9000, dbURL: "mem://x/list", verbosity: "2"}, s)

	tests := []struct {
		name string
		argv []string
	}{
		{name: "non-numeric port", argv: []string{"--port=http"}},
		{name: "port out of range", argv: []string{"--port=70000"}},
		{name: "non-numeric verbosity", argv: []string{"--verbosity=loud"}},
		{name: "unknown flag", argv: []string{"--bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseArgs(parser, tt.argv)
			assert.Error(t, err)
		})
	}
}
