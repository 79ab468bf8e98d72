//go:build linux

package logrelay

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Prepare sets up the stdout and stderr relays for one workload.
//
// The sink at sinkPath is started twice with an environment composed from
// supervisorEnv (see [ComposeEnvironment]) and the workload's labels. On
// success the caller owns both write ends of the returned Result. On failure no
// descriptor or sink from this call remains; the error is an [*Error].
//
// workerThreads must be positive; Prepare panics otherwise.
func (r *Relay) Prepare(id WorkloadIdentity, sinkPath string, supervisorEnv map[string]string, workerThreads int) (Result, error) {
	return r.prepare(id, sinkPath, supervisorEnv, workerThreads, r.log)
}

func (r *Relay) prepare(id WorkloadIdentity, sinkPath string, supervisorEnv map[string]string, workerThreads int, log *zap.Logger) (Result, error) {
	env := ComposeEnvironment(supervisorEnv, workerThreads)
	environ := EnvironSlice(env)

	log.Debug("composed sink environment", zap.Strings("env", environ))

	labelsFlag, err := BuildLabels(id).Flag()
	if err != nil {
		return Result{}, fmt.Errorf("logrelay: %w", err)
	}

	in := pipelineInput{
		sinkPath:   sinkPath,
		env:        environ,
		labelsFlag: labelsFlag,
		log:        log,
	}

	out, outSink, err := r.setupPipeline(DirectionOut, in)
	if err != nil {
		return Result{}, err
	}

	errFile, errSink, err := r.setupPipeline(DirectionErr, in)
	if err != nil {
		// The out sink dies before its write end closes; it never sees EOF.
		killErr := outSink.kill()
		closeErr := out.Close()

		if rollbackErr := errors.Join(killErr, closeErr); rollbackErr != nil {
			log.Error("rolling back out relay", zap.Error(rollbackErr))
		}

		return Result{}, err
	}

	outSink.release(log)
	errSink.release(log)

	return Result{Out: out, Err: errFile}, nil
}
