package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withGlobalFlags(t *testing.T, f GlobalFlags) {
	t.Helper()
	prev := *globalFlags
	*globalFlags = f
	t.Cleanup(func() { *globalFlags = prev })
}

func TestValidateGlobalFlags(t *testing.T) {
	tests := []struct {
		name    string
		flags   GlobalFlags
		wantErr string
	}{
		{"defaults", GlobalFlags{OutputFormat: "text"}, ""},
		{"json format", GlobalFlags{OutputFormat: "json"}, ""},
		{"unknown format", GlobalFlags{OutputFormat: "xml"}, "invalid output format"},
		{"verbose and quiet conflict", GlobalFlags{OutputFormat: "text", Verbose: true, Quiet: true}, "cannot be used together"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withGlobalFlags(t, tt.flags)

			err := ValidateGlobalFlags()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetOutputFormat(t *testing.T) {
	withGlobalFlags(t, GlobalFlags{OutputFormat: "json"})
	assert.Equal(t, FormatJSON, globalFlags.GetOutputFormat())

	withGlobalFlags(t, GlobalFlags{OutputFormat: "text"})
	assert.Equal(t, FormatText, globalFlags.GetOutputFormat())
}

func TestIsVerbose(t *testing.T) {
	withGlobalFlags(t, GlobalFlags{Verbose: true})
	assert.True(t, globalFlags.IsVerbose())

	withGlobalFlags(t, GlobalFlags{Verbose: true, Quiet: true})
	assert.False(t, globalFlags.IsVerbose())
}
