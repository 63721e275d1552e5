// internal/infra/shell/command_deliverer.go
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"business-escalation/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// commandDeliverer hands volunteer requests to a local command. The request
// JSON is written to the command's stdin and the main identifiers are
// exported as environment variables.
type commandDeliverer struct {
	command string
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewCommandDeliverer creates a deliverer that runs command with bash.
func NewCommandDeliverer(command string, logger *slog.Logger) domain.Deliverer {
	return &commandDeliverer{
		command: command,
		timeout: 30 * time.Second,
		logger:  logger.With("deliverer", "command"),
		tracer:  otel.Tracer("business-escalation-command-deliverer"),
	}
}

// Deliver runs the command and returns its output.
func (d *commandDeliverer) Deliver(ctx context.Context, req *domain.VolunteerRequest) (string, error) {
	ctx, span := d.tracer.Start(ctx, "deliverer.command.Deliver",
		trace.WithAttributes(
			attribute.String("task.id", req.TaskInfo.ID),
			attribute.String("business.id", req.BusinessID),
		))
	defer span.End()

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal volunteer request: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "bash", "-c", d.command)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = append(os.Environ(),
		"BUSINESS_ID="+req.BusinessID,
		"BUSINESS_EMAIL="+req.BusinessContact.Email,
		"BUSINESS_PHONE="+req.BusinessContact.Phone,
		"TASK_ID="+req.TaskInfo.ID,
		"TASK_CATEGORY="+req.TaskInfo.Category,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	output := stdout.String()
	if errOutput := stderr.String(); errOutput != "" {
		span.SetAttributes(attribute.String("command.stderr", errOutput))
		if output != "" {
			output = fmt.Sprintf("[STDERR]:\n%s\n[STDOUT]:\n%s", errOutput, output)
		} else {
			output = fmt.Sprintf("[STDERR]:\n%s", errOutput)
		}
	}

	if err != nil {
		span.SetStatus(codes.Error, "delivery command failed")
		span.RecordError(err)
		return output, fmt.Errorf("delivery command failed: %w", err)
	}

	d.logger.Info("delivery command finished", "task_id", req.TaskInfo.ID, "business_id", req.BusinessID)
	return output, nil
}
