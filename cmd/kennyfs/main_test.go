package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitOption(t *testing.T) {
	for _, test := range []struct {
		opt, wantName, wantValue string
		wantOK                   bool
	}{
		{"kfsconf=/etc/kennyfs.ini", "kfsconf", "/etc/kennyfs.ini", true},
		{"kfsconf=~/x.ini", "kfsconf", "~/x.ini", true},
		{"novalue", "", "", false},
		{"a=b=c", "a", "b=c", true},
	} {
		name, value, ok := splitOption(test.opt)
		assert.Equal(t, test.wantOK, ok, test.opt)
		assert.Equal(t, test.wantName, name, test.opt)
		assert.Equal(t, test.wantValue, value, test.opt)
	}
}

func TestRunVersion(t *testing.T) {
	assert.Equal(t, 0, run([]string{"-v"}))
}

func TestRunHelp(t *testing.T) {
	assert.Equal(t, 0, run([]string{"--help"}))
}

func TestRunMissingMountpoint(t *testing.T) {
	assert.Equal(t, 2, run([]string{}))
}
