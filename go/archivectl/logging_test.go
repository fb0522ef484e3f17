package main

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestInitLogAppliesLevelAndFormat(t *testing.T) {
	initLog(LogConfig{Level: "debug", Format: "json"})
	require.Equal(t, log.DebugLevel, log.GetLevel())
	var jf, ok = log.StandardLogger().Formatter.(*log.JSONFormatter)
	require.True(t, ok)
	require.NotEmpty(t, jf.TimestampFormat)

	initLog(LogConfig{Level: "warn", Format: "text"})
	require.Equal(t, log.WarnLevel, log.GetLevel())
	tf, ok := log.StandardLogger().Formatter.(*log.TextFormatter)
	require.True(t, ok)
	require.True(t, tf.FullTimestamp)
}
