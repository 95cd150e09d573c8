package zookeeper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		errorExpected bool
	}{
		{
			name:          "empty string",
			path:          "",
			errorExpected: true,
		},
		{
			name:          "not starting at root",
			path:          "node/other/one",
			errorExpected: true,
		},
		{
			name:          "not ending with node name",
			path:          "/a/b/",
			errorExpected: true,
		},
		{
			name: "root",
			path: "/",
		},
		{
			name: "no parents",
			path: "/x",
		},
		{
			name: "multiple parents",
			path: "/x/y/z",
		},
		{
			name:          "empty name between path separator",
			path:          "//y/z",
			errorExpected: true,
		},
		{
			name:          "current directory",
			path:          "/./a",
			errorExpected: true,
		},
		{
			name:          "parent directory at the end",
			path:          "/a/..",
			errorExpected: true,
		},
		{
			name: "dots inside a name",
			path: "/a..b/c.d",
		},
		{
			name:          "null character",
			path:          "/a\x00b",
			errorExpected: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := ValidatePath(test.path)
			if test.errorExpected {
				assert.ErrorIs(t, err, ErrInvalidPath)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
