package docker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/langconnect/mcpd/pkg/container/runtime"
)

// maxLogLine bounds a single log line; anything longer is split by the
// scanner's buffer.
const maxLogLine = 1024 * 1024

// StreamLogs returns a single-use channel of timestamped log lines, tailing
// the last tail lines initially. With follow the channel stays open until
// the container terminates or ctx is cancelled. Errors surface as a final
// in-band line; the channel always closes when the stream ends.
func (c *Client) StreamLogs(ctx context.Context, containerID string, follow bool, tail int) <-chan string {
	lines := make(chan string)

	go func() {
		defer close(lines)

		info, err := c.inspect(ctx, containerID)
		if err != nil {
			if runtime.IsContainerNotFound(err) {
				emit(ctx, lines, fmt.Sprintf("Container %s not found", containerID))
				return
			}
			emit(ctx, lines, fmt.Sprintf("Error streaming logs: %v", err))
			return
		}

		tailOpt := "all"
		if tail > 0 {
			tailOpt = strconv.Itoa(tail)
		}
		rc, err := c.api.ContainerLogs(ctx, containerID, container.LogsOptions{
			ShowStdout: true,
			ShowStderr: true,
			Timestamps: true,
			Follow:     follow,
			Tail:       tailOpt,
		})
		if err != nil {
			emit(ctx, lines, fmt.Sprintf("Error streaming logs: %v", err))
			return
		}
		defer func() { _ = rc.Close() }()

		var reader io.Reader = rc
		if info.Config == nil || !info.Config.Tty {
			// Non-TTY log streams are multiplexed; demux stdout and stderr
			// onto one pipe, preserving line order.
			pr, pw := io.Pipe()
			defer func() { _ = pr.Close() }()
			go func() {
				_, copyErr := stdcopy.StdCopy(pw, pw, rc)
				_ = pw.CloseWithError(copyErr)
			}()
			reader = pr
		}

		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLogLine)
		for scanner.Scan() {
			line := strings.TrimSpace(strings.ToValidUTF8(scanner.Text(), "�"))
			if line == "" {
				continue
			}
			if !emit(ctx, lines, line) {
				return
			}
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
			emit(ctx, lines, fmt.Sprintf("Error streaming logs: %v", err))
		}
	}()

	return lines
}

// emit delivers one line unless the consumer is gone.
func emit(ctx context.Context, ch chan<- string, line string) bool {
	select {
	case ch <- line:
		return true
	case <-ctx.Done():
		return false
	}
}
