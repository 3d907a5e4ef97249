package shell

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrintLiteralEscapesSingleQuotes(t *testing.T) {
	a := New()
	got := a.PrintLiteral(`it's a test`)
	require.Equal(t, `printf '%s\n' 'it'\''s a test'`, got)
}

func TestPrintLiteralPlain(t *testing.T) {
	a := New()
	require.Equal(t, `printf '%s\n' 'hello'`, a.PrintLiteral("hello"))
}

func TestNewlineIsLF(t *testing.T) {
	require.Equal(t, "\n", New().Newline())
}

func TestExitCommand(t *testing.T) {
	require.Equal(t, "exit", New().ExitCommand())
}

func TestRestoreCommandEmptyWithoutScript(t *testing.T) {
	require.Equal(t, "", New().RestoreCommand("", "/tmp/snap"))
}

func TestRestoreCommandBuildsInvocation(t *testing.T) {
	got := New().RestoreCommand("/opt/restore.sh", "/tmp/snap.bin")
	require.Equal(t, "'/opt/restore.sh' '/tmp/snap.bin'", got)
}
