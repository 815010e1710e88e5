package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptLoop(t *testing.T) {
	t.Parallel()
	var lines []string
	input := "status\n\n  # comment\n event hello 01 \r\nquit"
	require.NoError(t, ScriptLoop(strings.NewReader(input), func(line string) {
		lines = append(lines, line)
	}))
	assert.Equal(t, []string{"status", "event hello 01", "quit"}, lines)
}
