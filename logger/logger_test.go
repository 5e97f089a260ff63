package logger_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamgarcia4/goLearning/chandylamport/logger"
)

func TestLogBufferKeepsMostRecent(t *testing.T) {
	buf := logger.NewLogBuffer(3)
	for i := 0; i < 5; i++ {
		buf.Add("doors", fmt.Sprintf("msg %d", i))
	}

	all := buf.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, "msg 2", all[0].Message)
	assert.Equal(t, "msg 4", all[2].Message)

	recent := buf.GetRecent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "msg 3", recent[0].Message)
	assert.Len(t, buf.GetRecent(10), 3)

	buf.Clear()
	assert.Equal(t, 0, buf.Len())
}

func TestLogBufferWriterParsesPeerAndLevel(t *testing.T) {
	buf := logger.NewLogBuffer(10)
	w := logger.NewLogBufferWriter(buf)

	_, err := w.Write([]byte("[doors] Received 10 from glados\n[hendrix] [ERROR] failed to deliver\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("[WARN] no peers\nplain line"))
	require.NoError(t, err)

	entries := buf.GetAll()
	require.Len(t, entries, 3)

	assert.Equal(t, "doors", entries[0].PeerID)
	assert.Equal(t, logger.LevelInfo, entries[0].Level)
	assert.Equal(t, "Received 10 from glados", entries[0].Message)

	assert.Equal(t, "hendrix", entries[1].PeerID)
	assert.Equal(t, logger.LevelError, entries[1].Level)
	assert.Equal(t, "failed to deliver", entries[1].Message)

	assert.Equal(t, "system", entries[2].PeerID)
	assert.Equal(t, logger.LevelWarn, entries[2].Level)

	// the unterminated line is completed by the next write
	_, err = w.Write([]byte(" continued\n"))
	require.NoError(t, err)
	entries = buf.GetAll()
	require.Len(t, entries, 4)
	assert.Equal(t, "plain line continued", entries[3].Message)
	assert.Equal(t, "system", entries[3].PeerID)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]logger.Level{
		"debug": logger.LevelDebug,
		"INFO":  logger.LevelInfo,
		"":      logger.LevelInfo,
		"warn":  logger.LevelWarn,
		"Error": logger.LevelError,
	} {
		got, err := logger.ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := logger.ParseLevel("loud")
	assert.Error(t, err)
}

func TestFormatLogEntry(t *testing.T) {
	entry := logger.LogEntry{PeerID: "doors", Level: logger.LevelError, Message: "boom"}
	assert.Contains(t, logger.FormatLogEntry(entry), "ERROR doors: boom")

	entry.Level = logger.LevelInfo
	assert.Contains(t, logger.FormatLogEntry(entry), "doors: boom")
	assert.NotContains(t, logger.FormatLogEntry(entry), "INFO")
}
