package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EndMarker is the last event of every conversion stream.
const EndMarker = "---END---"

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeEvent sends one line as a data event. Embedded newlines become
// continuation data lines.
func writeEvent(w gin.ResponseWriter, line string) error {
	var b strings.Builder
	for _, part := range strings.Split(line, "\n") {
		b.WriteString("data: ")
		b.WriteString(part)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	if _, err := w.WriteString(b.String()); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// startConversion streams a full pipeline run. Only one run may be active;
// the run stops when the client disconnects.
func (s *Server) startConversion(c *gin.Context) {
	if s.opts.Pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "conversion is not configured"})
		return
	}
	if !s.busy.CompareAndSwap(false, true) {
		c.JSON(http.StatusConflict, gin.H{"error": "a conversion is already running"})
		return
	}
	defer s.busy.Store(false)

	ctx := c.Request.Context()
	setStreamHeaders(c.Writer)
	c.Status(http.StatusOK)
	c.Writer.Flush()

	lines := make(chan string, 64)
	go s.runPipeline(ctx, lines)

	connected := true
	for line := range lines {
		if !connected {
			continue
		}
		if err := writeEvent(c.Writer, line); err != nil {
			s.logger.Debug("stream write failed", zap.Error(err))
			connected = false
		}
	}
	if connected {
		_ = writeEvent(c.Writer, EndMarker)
	}
}

func (s *Server) runPipeline(ctx context.Context, lines chan<- string) {
	defer close(lines)
	send := func(line string) {
		select {
		case lines <- line:
		case <-ctx.Done():
		}
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("conversion panicked", zap.Any("panic", r))
			send(fmt.Sprintf("A critical error occurred: %v", r))
		}
	}()

	sum, err := s.opts.Pipeline.Run(ctx, send)
	if err != nil {
		s.logger.Error("conversion failed", zap.Error(err))
		send(fmt.Sprintf("A critical error occurred: %v", err))
		return
	}
	s.logger.Info("conversion finished",
		zap.String("run_id", sum.RunID),
		zap.Int("total", sum.Total),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
	)
}
