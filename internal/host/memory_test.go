package host

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryReadWrite(t *testing.T) {
	m := NewMemory("/ws")

	err := m.WriteFile("/ws/bank/a.md", "hello")
	require.Error(t, err, "write into a missing directory must fail")
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	require.NoError(t, m.CreateDirectory("/ws/bank"))
	require.NoError(t, m.WriteFile("/ws/bank/a.md", "hello"))

	got, err := m.ReadFile("/ws/bank/a.md")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
	assert.True(t, m.FileExists("/ws/bank/a.md"))
	assert.True(t, m.FileExists("/ws/bank"))
	assert.Equal(t, 1, m.Writes())
}

func TestMemoryFailureInjection(t *testing.T) {
	m := NewMemory("/ws")
	require.NoError(t, m.CreateDirectory("/ws/bank"))

	m.FailWrites("/ws/bank/a.md", 2)
	assert.Error(t, m.WriteFile("/ws/bank/a.md", "x"))
	assert.Error(t, m.WriteFile("/ws/bank/a.md", "x"))
	assert.NoError(t, m.WriteFile("/ws/bank/a.md", "x"))
}

func TestMemoryRemoveDirectory(t *testing.T) {
	m := NewMemory("/ws")
	m.SetFile("/ws/bank/a.md", "a")
	m.SetFile("/ws/bank/b.md", "b")

	m.RemoveDirectory("/ws/bank")

	assert.False(t, m.FileExists("/ws/bank"))
	assert.False(t, m.FileExists("/ws/bank/a.md"))
	assert.True(t, m.FileExists("/ws"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelWarning, ParseLevel("WARN"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("anything"))
}

func TestMemoryNotify(t *testing.T) {
	m := NewMemory("/ws")
	m.Notify(LevelError, "disk full")

	require.Len(t, m.Notifications(), 1)
	assert.Equal(t, Notification{Level: LevelError, Message: "disk full"}, m.Notifications()[0])
}
