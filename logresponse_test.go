package main

import (
	"bytes"
	"log"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"testing"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
)

func TestLogResponse(t *testing.T) {
	var logBuf bytes.Buffer
	log.SetOutput(&logBuf)
	defer func() {
		log.SetOutput(os.Stderr)
	}()
	rhc := retryablehttp.NewClient()
	rhc.Logger = slog.Default()
	rhc.RetryMax = 0
	rhc.ResponseLogHook = logResponse
	httpmock.ActivateNonDefault(rhc.HTTPClient)
	defer httpmock.DeactivateAndReset()
	t.Run("should log request and response details when log level is DEBUG", func(t *testing.T) {
		// given
		logBuf.Reset()
		slog.SetLogLoggerLevel(slog.LevelDebug)
		defer slog.SetLogLoggerLevel(slog.LevelInfo)
		httpmock.Reset()
		httpmock.RegisterResponder(
			"GET",
			"https://www.example.com/",
			httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]bool{"alpha": true}),
		)
		// when
		r, err := rhc.Get("https://www.example.com/")
		// then
		if assert.NoError(t, err) {
			assert.Equal(t, http.StatusOK, r.StatusCode)
			m, err := regexp.MatchString(
				`DEBUG HTTP response method=GET .*status="200.*body=map\[alpha:true\]`,
				logBuf.String(),
			)
			if assert.NoError(t, err) {
				assert.True(t, m, logBuf.String())
			}
		}
	})
	t.Run("should not log successful responses at default level", func(t *testing.T) {
		// given
		logBuf.Reset()
		httpmock.Reset()
		httpmock.RegisterResponder(
			"GET",
			"https://www.example.com/",
			httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]bool{"alpha": true}),
		)
		// when
		_, err := rhc.Get("https://www.example.com/")
		// then
		if assert.NoError(t, err) {
			assert.NotContains(t, logBuf.String(), "HTTP response")
		}
	})
	t.Run("should log the body size for non JSON responses", func(t *testing.T) {
		// given
		logBuf.Reset()
		slog.SetLogLoggerLevel(slog.LevelDebug)
		defer slog.SetLogLoggerLevel(slog.LevelInfo)
		httpmock.Reset()
		httpmock.RegisterResponder(
			"GET",
			"https://www.example.com/dump.bz2",
			httpmock.NewBytesResponder(http.StatusOK, []byte{0x42, 0x5a, 0x68}),
		)
		// when
		_, err := rhc.Get("https://www.example.com/dump.bz2")
		// then
		if assert.NoError(t, err) {
			assert.Contains(t, logBuf.String(), "3 bytes")
		}
	})
}
