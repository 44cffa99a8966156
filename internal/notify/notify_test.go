package notify

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizeStripsMarkup(t *testing.T) {
	require.Equal(t, "Product 9 not found", Sanitize(` <b>Product 9</b> not found<script>alert(1)</script> `))
	require.Equal(t, "Can't add Tom & Jerry", Sanitize("Can't add Tom &amp; Jerry"))
}

func TestWriterNotifier(t *testing.T) {
	var buf bytes.Buffer
	NewWriterNotifier(&buf).Notify(context.Background(), "Error: <i>out of stock</i>")
	require.Equal(t, "! Error: out of stock\n", buf.String())
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	NewLogNotifier(zap.New(core)).Notify(context.Background(), "hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "hello", entries[0].ContextMap()["notification"])
}

func TestRecorderAndMulti(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	Multi{a, nil, b}.Notify(context.Background(), "one")

	require.Equal(t, []string{"one"}, a.Messages())
	require.Equal(t, []string{"one"}, b.Messages())
}
