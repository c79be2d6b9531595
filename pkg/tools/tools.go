package tools

import (
	"errors"
	"fmt"

	"github.com/tyonishi/commanda-sub001/internal/metrics"
	"github.com/tyonishi/commanda-sub001/pkg/dispatcher"
	"github.com/tyonishi/commanda-sub001/pkg/policy"
	"github.com/tyonishi/commanda-sub001/pkg/process"
	"github.com/tyonishi/commanda-sub001/pkg/secrets"
)

// DefaultMaxReadSize is the ceiling on text file reads. Configuration may
// lower it, never raise it.
const DefaultMaxReadSize = int64(10 * 1024 * 1024)

// Options binds the built-in tools to their collaborators.
type Options struct {
	Policy    *policy.Evaluator
	Processes *process.Manager
	Secrets   *secrets.Store

	// Metrics receives launch, termination and secret-op counts. Optional.
	Metrics *metrics.Metrics

	// MaxReadSize caps read_text_file; values outside (0, DefaultMaxReadSize]
	// fall back to the default.
	MaxReadSize int64
}

func (o Options) countSecretOp(op string) {
	if o.Metrics != nil {
		o.Metrics.SecretOpsTotal.WithLabelValues(op).Inc()
	}
}

func (o Options) countTermination(outcome string) {
	if o.Metrics != nil {
		o.Metrics.ProcessTerminationsTotal.WithLabelValues(outcome).Inc()
	}
}

func (o Options) maxReadSize() int64 {
	if o.MaxReadSize > 0 && o.MaxReadSize <= DefaultMaxReadSize {
		return o.MaxReadSize
	}
	return DefaultMaxReadSize
}

// RegisterCoreTools registers the built-in file, process and secret tools.
// Built-ins go in before any extension loads, so their names are anchored.
func RegisterCoreTools(d *dispatcher.Dispatcher, opts Options) error {
	if d == nil {
		return errors.New("dispatcher is required")
	}
	if opts.Policy == nil {
		return errors.New("policy evaluator is required")
	}
	if opts.Processes == nil {
		return errors.New("process manager is required")
	}
	if opts.Secrets == nil {
		return errors.New("secret store is required")
	}

	tools := []dispatcher.ToolDefinition{
		readTextFileTool(opts),
		writeTextFileTool(opts),
		listDirectoryTool(opts),
		launchApplicationTool(opts),
		terminateProcessTool(opts),
		listProcessesTool(opts),
		storeSecretTool(opts),
		retrieveSecretTool(opts),
		deleteSecretTool(opts),
		listSecretKeysTool(opts),
	}

	for _, tool := range tools {
		if err := d.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}
