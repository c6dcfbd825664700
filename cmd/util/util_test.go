package util

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piframe/piframe/pkg/errors"
)

func TestPrintFatalError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		exp  string
	}{
		{
			name: "FriendlyError",
			err:  errors.NewFriendlyError("The folder link is malformed."),
			exp:  "The folder link is malformed.\n",
		},
		{
			name: "WrappedFriendlyError",
			err: errors.WithContext(
				errors.NewFriendlyError("The folder link is malformed."),
				"validate source"),
			exp: "The folder link is malformed.\n",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			var out bytes.Buffer
			stderr = &out
			printFatalError(test.err)
			assert.Equal(t, test.exp, out.String())
		})
	}
}

func TestRotateIfNeeded(t *testing.T) {
	fs = afero.NewMemMapFs()

	// Undersized files stay put.
	require.NoError(t, afero.WriteFile(
		fs, "/logs/sync.log", []byte("small"), 0644))
	require.NoError(t, rotateIfNeeded("/logs/sync.log", 1024))
	exists, err := afero.Exists(fs, "/logs/sync.log.1")
	require.NoError(t, err)
	assert.False(t, exists)

	// Oversized files move to the .1 backup, replacing an older backup.
	big := bytes.Repeat([]byte("x"), 2048)
	require.NoError(t, afero.WriteFile(fs, "/logs/sync.log", big, 0644))
	require.NoError(t, afero.WriteFile(
		fs, "/logs/sync.log.1", []byte("old backup"), 0644))
	require.NoError(t, rotateIfNeeded("/logs/sync.log", 1024))

	backup, err := afero.ReadFile(fs, "/logs/sync.log.1")
	require.NoError(t, err)
	assert.Equal(t, big, backup)

	exists, err = afero.Exists(fs, "/logs/sync.log")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRotateIfNeededMissingFile(t *testing.T) {
	fs = afero.NewMemMapFs()
	assert.NoError(t, rotateIfNeeded("/logs/sync.log", 1024))
}

func ExampleHandlePanic() {
	defer func() {
		recover()
		fmt.Println("crashed")
	}()
	defer HandlePanic()
	panic("boom")
	// Output: crashed
}
