package docker

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// muxedLogs frames lines the way the daemon does for non-TTY containers.
func muxedLogs(t *testing.T, stdout []string, stderr []string) io.ReadCloser {
	t.Helper()
	var buf bytes.Buffer
	outWriter := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	errWriter := stdcopy.NewStdWriter(&buf, stdcopy.Stderr)
	for _, line := range stdout {
		_, err := outWriter.Write([]byte(line + "\n"))
		require.NoError(t, err)
	}
	for _, line := range stderr {
		_, err := errWriter.Write([]byte(line + "\n"))
		require.NoError(t, err)
	}
	return io.NopCloser(&buf)
}

func collect(t *testing.T, ch <-chan string) []string {
	t.Helper()
	var lines []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case line, ok := <-ch:
			if !ok {
				return lines
			}
			lines = append(lines, line)
		case <-timeout:
			t.Fatal("timed out collecting log lines")
		}
	}
}

func TestStreamLogs_DemuxesNonTTY(t *testing.T) {
	t.Parallel()

	var gotOpts container.LogsOptions
	api := &fakeDockerAPI{
		inspectFunc: func(_ context.Context, _ string) (container.InspectResponse, error) {
			info := inspectResponse("cid-1", "running", "srv-1")
			info.Config.Tty = false
			return info, nil
		},
		logsFunc: func(_ context.Context, _ string, options container.LogsOptions) (io.ReadCloser, error) {
			gotOpts = options
			return muxedLogs(t, []string{"line2", "line3"}, []string{"line4"}), nil
		},
	}
	c := newTestClient(api)

	lines := collect(t, c.StreamLogs(context.Background(), "cid-1", false, 3))

	assert.Equal(t, []string{"line2", "line3", "line4"}, lines)
	assert.Equal(t, "3", gotOpts.Tail)
	assert.True(t, gotOpts.Timestamps)
	assert.False(t, gotOpts.Follow)
}

func TestStreamLogs_TTYPassthrough(t *testing.T) {
	t.Parallel()

	api := &fakeDockerAPI{
		inspectFunc: func(_ context.Context, _ string) (container.InspectResponse, error) {
			info := inspectResponse("cid-1", "running", "srv-1")
			info.Config.Tty = true
			return info, nil
		},
		logsFunc: func(_ context.Context, _ string, _ container.LogsOptions) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewBufferString("hello\n  spaced  \n\nworld\n")), nil
		},
	}
	c := newTestClient(api)

	lines := collect(t, c.StreamLogs(context.Background(), "cid-1", false, 0))

	// Lines are trimmed and blank lines dropped.
	assert.Equal(t, []string{"hello", "spaced", "world"}, lines)
}

func TestStreamLogs_InvalidUTF8Replaced(t *testing.T) {
	t.Parallel()

	api := &fakeDockerAPI{
		inspectFunc: func(_ context.Context, _ string) (container.InspectResponse, error) {
			info := inspectResponse("cid-1", "running", "srv-1")
			info.Config.Tty = true
			return info, nil
		},
		logsFunc: func(_ context.Context, _ string, _ container.LogsOptions) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewBuffer([]byte{'o', 'k', 0xff, '!', '\n'})), nil
		},
	}
	c := newTestClient(api)

	lines := collect(t, c.StreamLogs(context.Background(), "cid-1", false, 0))

	require.Len(t, lines, 1)
	assert.Equal(t, "ok�!", lines[0])
}

func TestStreamLogs_ContainerMissing(t *testing.T) {
	t.Parallel()

	api := &fakeDockerAPI{
		inspectFunc: func(_ context.Context, id string) (container.InspectResponse, error) {
			return container.InspectResponse{}, notFoundErr(id)
		},
	}
	c := newTestClient(api)

	lines := collect(t, c.StreamLogs(context.Background(), "gone", false, 0))

	assert.Equal(t, []string{"Container gone not found"}, lines)
}

func TestStreamLogs_CancelStopsFollow(t *testing.T) {
	t.Parallel()

	// A pipe that never produces more data stands in for a followed stream.
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	api := &fakeDockerAPI{
		inspectFunc: func(_ context.Context, _ string) (container.InspectResponse, error) {
			info := inspectResponse("cid-1", "running", "srv-1")
			info.Config.Tty = true
			return info, nil
		},
		logsFunc: func(_ context.Context, _ string, _ container.LogsOptions) (io.ReadCloser, error) {
			return pr, nil
		},
	}
	c := newTestClient(api)

	ctx, cancel := context.WithCancel(context.Background())
	// The SDK ties the log stream to the request context; the fake pipe
	// needs the same behavior for cancellation to unblock the reader.
	go func() {
		<-ctx.Done()
		_ = pw.CloseWithError(ctx.Err())
	}()
	ch := c.StreamLogs(ctx, "cid-1", true, 0)

	_, err := pw.Write([]byte("first\n"))
	require.NoError(t, err)

	select {
	case line := <-ch:
		assert.Equal(t, "first", line)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first line")
	}

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should close after cancellation")
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not close after cancellation")
	}
}
