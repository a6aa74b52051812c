package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/aegis/internal/daemon"
	"github.com/zero-day-ai/aegis/internal/types"
	"github.com/zero-day-ai/aegis/internal/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator daemon over stdio",
	Long: `Run the orchestrator as a long-lived daemon driven by newline-delimited
JSON on stdin, emitting stream messages on stdout. The embedding process
(dashboard, IDE integration, supervisor) owns the outer transport.

Control messages:
  {"type":"submit","data":{...}}          submit an assessment request
  {"type":"subscribe","workflowId":"..."}  stream a workflow's events
  {"type":"status","workflowId":"..."}     one-shot status query
  {"type":"cancel","workflowId":"..."}     request cancellation
  {"type":"approve","workflowId":"..."}    resume a suspended workflow
  {"type":"deny","workflowId":"..."}       reject held actions, cancelling
  {"type":"metrics"}                       orchestrator load counters`,
	RunE: runServe,
}

// Control message types accepted on stdin beyond the stream protocol.
const (
	messageSubmit  = "submit"
	messageStatus  = "status"
	messageCancel  = "cancel"
	messageApprove = "approve"
	messageDeny    = "deny"
	messageMetrics = "metrics"
)

// writerSink serializes stream messages to a writer, one JSON object per line.
type writerSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *writerSink) Send(msg daemon.StreamMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = fmt.Fprintln(s.w, string(data))
	return err
}

func runServe(cmd *cobra.Command, args []string) error {
	stack, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	ctx := cmd.Context()
	sink := &writerSink{w: cmd.OutOrStdout()}

	session, err := daemon.NewStreamSession(stack.Service, stack.Bus, sink, stack.Logger)
	if err != nil {
		return err
	}
	defer session.Close()

	stack.Logger.Info("daemon ready",
		"capabilities", len(stack.Registry.List()),
		"monitoring_url", cfg.Daemon.MonitoringURL,
	)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			stack.Logger.Info("daemon shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if len(line) == 0 {
				continue
			}
			if err := handleControlMessage(ctx, stack, session, sink, line); err != nil {
				return err
			}
		}
	}
}

// handleControlMessage dispatches one stdin line: control types act on the
// service, everything else goes through the stream session.
func handleControlMessage(ctx context.Context, stack *Stack, session *daemon.StreamSession, sink *writerSink, line []byte) error {
	msg, err := daemon.DecodeStreamMessage(line)
	if err != nil {
		return sink.Send(daemon.StreamMessage{
			Type:      daemon.MessageError,
			Update:    err.Error(),
			Timestamp: time.Now(),
		})
	}

	switch msg.Type {
	case messageSubmit:
		return handleSubmitMessage(ctx, stack, sink, msg)

	case messageStatus:
		status, err := stack.Service.Status(ctx, msg.WorkflowID)
		if err != nil {
			return sendError(sink, msg.WorkflowID, err)
		}
		return sink.Send(daemon.StreamMessage{
			Type:       daemon.MessageWorkflowStatus,
			WorkflowID: msg.WorkflowID,
			Update:     status.Status.String(),
			Data:       status,
			Timestamp:  time.Now(),
		})

	case messageCancel:
		if err := stack.Service.Cancel(ctx, msg.WorkflowID); err != nil {
			return sendError(sink, msg.WorkflowID, err)
		}
		return ack(sink, msg.WorkflowID, "cancellation requested")

	case messageApprove:
		if err := stack.Service.Approve(ctx, msg.WorkflowID); err != nil {
			return sendError(sink, msg.WorkflowID, err)
		}
		return ack(sink, msg.WorkflowID, "approved")

	case messageDeny:
		if err := stack.Service.Deny(ctx, msg.WorkflowID); err != nil {
			return sendError(sink, msg.WorkflowID, err)
		}
		return ack(sink, msg.WorkflowID, "denied")

	case messageMetrics:
		return sink.Send(daemon.StreamMessage{
			Type:      daemon.MessageWorkflowStatus,
			Update:    "metrics",
			Data:      stack.Service.Metrics(ctx),
			Timestamp: time.Now(),
		})

	default:
		return session.Handle(ctx, msg)
	}
}

func handleSubmitMessage(ctx context.Context, stack *Stack, sink *writerSink, msg daemon.StreamMessage) error {
	raw, err := json.Marshal(msg.Data)
	if err != nil {
		return sendError(sink, "", err)
	}
	var req workflow.SubmitRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return sendError(sink, "", types.WrapError(types.VALIDATION_FAILED, "malformed submit request", err))
	}

	resp, err := stack.Service.Submit(ctx, req)
	if err != nil {
		return sendError(sink, "", err)
	}
	return sink.Send(daemon.StreamMessage{
		Type:       daemon.MessageWorkflowStatus,
		WorkflowID: resp.WorkflowID,
		Update:     resp.Status,
		Data:       resp,
		Timestamp:  time.Now(),
	})
}

func sendError(sink *writerSink, workflowID types.ID, err error) error {
	return sink.Send(daemon.StreamMessage{
		Type:       daemon.MessageError,
		WorkflowID: workflowID,
		Update:     err.Error(),
		Timestamp:  time.Now(),
	})
}

func ack(sink *writerSink, workflowID types.ID, update string) error {
	return sink.Send(daemon.StreamMessage{
		Type:       daemon.MessageWorkflowStatus,
		WorkflowID: workflowID,
		Update:     update,
		Timestamp:  time.Now(),
	})
}
