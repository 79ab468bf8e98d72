//go:build linux

package logrelay

import (
	"context"
	"errors"
	"maps"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config configures a [Logger].
type Config struct {
	// CompanionDir is the directory holding the sink executable. Required.
	CompanionDir string

	// SinkName is the sink's file name in CompanionDir. Defaults to
	// [DefaultSinkName].
	SinkName string

	// WorkerThreads is the worker thread count passed to every sink. Must be
	// positive; Start panics otherwise.
	WorkerThreads int

	// Environment is the supervisor environment sinks are derived from. It is
	// copied at Start. Nil means the current process environment.
	Environment map[string]string

	Hooks Hooks

	// Log receives setup diagnostics. Nil discards them.
	Log *zap.Logger
}

// Request asks for the relays of one workload.
type Request struct {
	Identity WorkloadIdentity
}

// Outcome is the completion of one request. Exactly one of Result and Err is
// meaningful.
type Outcome struct {
	Result Result
	Err    error
}

type envelope struct {
	req   Request
	reply chan<- Outcome
}

// Logger serializes relay setups through a single actor goroutine. Requests
// are processed in submission order; one setup completes (or rolls back)
// before the next begins. The request queue is unbounded, so submitting never
// waits for the actor.
//
// A Logger must not be copied after first use.
type Logger struct {
	noCopy noCopy

	relay         *Relay
	sinkPath      string
	workerThreads int
	env           map[string]string
	log           *zap.Logger

	mu      sync.Mutex
	pending sync.Cond // signaled when queue grows or stopped is set
	queue   []envelope
	stopped bool
	done    chan struct{}
}

// Start validates cfg and launches the actor. Call Stop to shut it down.
func Start(cfg Config) (*Logger, error) {
	if cfg.WorkerThreads <= 0 {
		panic("logrelay: worker thread count must be positive, got " + strconv.Itoa(cfg.WorkerThreads))
	}

	if cfg.CompanionDir == "" {
		return nil, errors.New("logrelay: companion directory is empty")
	}

	sinkName := cfg.SinkName
	if sinkName == "" {
		sinkName = DefaultSinkName
	}

	env := cfg.Environment
	if env == nil {
		env = EnvironFromOS()
	}

	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	l := &Logger{
		relay:         NewRelay(cfg.Hooks, log),
		sinkPath:      filepath.Join(cfg.CompanionDir, sinkName),
		workerThreads: cfg.WorkerThreads,
		env:           maps.Clone(env),
		log:           log,
		done:          make(chan struct{}),
	}
	l.pending.L = &l.mu

	go l.run()

	log.Info("log relay started",
		zap.String("sink", l.sinkPath),
		zap.Int("worker_threads", l.workerThreads),
	)

	return l, nil
}

// PrepareAsync submits req and returns a channel that receives exactly one
// Outcome. It never spawns processes on the calling goroutine.
func (l *Logger) PrepareAsync(req Request) <-chan Outcome {
	reply := make(chan Outcome, 1)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		reply <- Outcome{Err: ErrStopped}

		return reply
	}

	l.queue = append(l.queue, envelope{req: req, reply: reply})
	l.pending.Signal()

	return reply
}

// Prepare submits req and waits for its outcome.
//
// If ctx ends first, Prepare returns ctx.Err(). The setup itself is not
// interrupted; if it later succeeds, its write ends are closed so the sinks
// exit on EOF.
func (l *Logger) Prepare(ctx context.Context, req Request) (Result, error) {
	reply := l.PrepareAsync(req)

	select {
	case outcome := <-reply:
		return outcome.Result, outcome.Err
	case <-ctx.Done():
		go func() {
			outcome := <-reply
			if outcome.Err == nil {
				_ = outcome.Result.Close()
			}
		}()

		return Result{}, ctx.Err()
	}
}

// Stop rejects new requests, waits for queued ones to finish, and returns once
// the actor has exited. Stop is idempotent.
func (l *Logger) Stop() {
	l.mu.Lock()
	if !l.stopped {
		l.stopped = true
		l.pending.Broadcast()
	}
	l.mu.Unlock()

	<-l.done
}

func (l *Logger) run() {
	defer close(l.done)

	for {
		e, ok := l.next()
		if !ok {
			break
		}

		e.reply <- l.handle(e.req)
	}

	l.log.Info("log relay stopped")
}

// next blocks until a request is queued and pops it. It reports false once the
// logger is stopped and the queue is empty.
func (l *Logger) next() (envelope, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for len(l.queue) == 0 && !l.stopped {
		l.pending.Wait()
	}

	if len(l.queue) == 0 {
		return envelope{}, false
	}

	e := l.queue[0]
	l.queue[0] = envelope{}
	l.queue = l.queue[1:]

	return e, true
}

func (l *Logger) handle(req Request) Outcome {
	id := req.Identity

	log := l.log.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("framework_id", id.FrameworkID),
		zap.String("executor_id", id.ExecutorID),
		zap.String("container_id", id.ContainerID()),
	)

	result, err := l.relay.prepare(id, l.sinkPath, l.env, l.workerThreads, log)
	if err != nil {
		log.Error("preparing log relay failed", zap.Error(err))

		return Outcome{Err: err}
	}

	log.Info("log relay prepared")

	return Outcome{Result: result}
}

// noCopy may be embedded in structs which must not be copied after first use.
// See go vet's copylocks check.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
