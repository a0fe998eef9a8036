package main

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSetupLogger(t *testing.T) {
	prev := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(prev) })

	testCases := []struct {
		in   string
		want log.Level
	}{
		{in: "debug", want: log.DebugLevel},
		{in: "WARN", want: log.WarnLevel},
		{in: "error", want: log.ErrorLevel},
		{in: "verbose", want: log.InfoLevel},
		{in: "", want: log.InfoLevel},
	}
	for _, tc := range testCases {
		setupLogger(tc.in)
		if got := log.GetLevel(); got != tc.want {
			t.Errorf("setupLogger(%q): level %s, want %s", tc.in, got, tc.want)
		}
	}
}
