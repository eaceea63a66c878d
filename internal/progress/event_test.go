package progress

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dockling/internal/tracker"
)

func TestEmojiFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level Level
		text  string
		want  string
	}{
		{LevelInfo, "Successfully saved: a.md", EmojiSuccess},
		{LevelInfo, "Conversion completed", EmojiSuccess},
		{LevelWarn, "Partial success: b.md", EmojiWarning},
		{LevelInfo, "warning from engine", EmojiWarning},
		{LevelInfo, "Conversion failed for c.pdf", EmojiError},
		{LevelInfo, "skipped d.pdf", EmojiSkipped},
		{LevelError, "something odd", EmojiError},
		{LevelWarn, "something odd", EmojiWarning},
		{LevelDebug, "something odd", EmojiDebug},
		{LevelInfo, "something odd", EmojiInfo},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, EmojiFor(tt.level, tt.text), tt.text)
	}
}

func TestLogKeepsExplicitEmoji(t *testing.T) {
	t.Parallel()

	evt := Log(LevelWarn, EmojiSkipped, "too big")
	require.Equal(t, EmojiSkipped, evt.Emoji)
	require.Equal(t, KindLog, evt.Kind())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Validate(Log(LevelInfo, "", "hello")))
	require.NoError(t, Validate(StatsEvent{}))
	require.NoError(t, Validate(CompleteEvent{}))
	require.Error(t, Validate(nil))
	require.Error(t, Validate(LogEvent{Text: " ", Level: LevelInfo}))
	require.Error(t, Validate(LogEvent{Text: "x", Level: "LOUD"}))
	require.Error(t, Validate(ErrorEvent{}))
	require.Error(t, Validate(ProgressEvent{Snapshot: tracker.ProgressSnapshot{Percentage: 101}}))
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	require.True(t, IsTerminal(CompleteEvent{}))
	require.True(t, IsTerminal(ErrorEvent{Message: "x"}))
	require.False(t, IsTerminal(StatsEvent{}))
	require.False(t, IsTerminal(Log(LevelInfo, "", "x")))
}
