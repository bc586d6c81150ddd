package quicbind

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
)

// StatelessOpKind selects which stateless response a queued operation
// builds.
type StatelessOpKind int

const (
	OpVersionNegotiation StatelessOpKind = iota
	OpRetry
	OpReset
)

// Worker is the external collaborator that processes queued operations
// (Retry/VN/Reset payload build, connection dispatch). The binding only
// ever asks it whether it is overloaded and hands it work; it never
// inspects worker internals.
type Worker interface {
	IsOverloaded() bool
	Submit(job StatelessJob)
}

// StatelessJob is one unit of slow-path work: build and send the stateless
// response represented by ctx/kind, then release ctx back to its table.
type StatelessJob struct {
	Kind    StatelessOpKind
	Ctx     *StatelessContext
	Packet  *ReceivedPacket
	Binding *Binding
}

// inlineWorker runs jobs on a single goroutine pulling off a channel: one
// goroutine owns all mutable state and serializes work delivered over the
// channel. NewBinding does not substitute it for a nil Worker: a Binding
// with no Worker drops every stateless operation (see queueStateless).
type inlineWorker struct {
	jobs       chan StatelessJob
	overloaded atomic.Bool
	logger     log.Logger
	done       chan struct{}
}

// NewInlineWorker starts a worker whose queue holds up to queueLen pending
// jobs; Submit drops jobs (logging why) once that queue is full rather
// than blocking the dispatch-level caller, since every receive-path entry
// point must stay non-blocking.
func NewInlineWorker(queueLen int) *inlineWorker {
	w := &inlineWorker{
		jobs:   make(chan StatelessJob, queueLen),
		logger: log.New("module", "quicbind-worker"),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *inlineWorker) run() {
	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				return
			}
			processStatelessJob(job)
		case <-w.done:
			return
		}
	}
}

func (w *inlineWorker) IsOverloaded() bool { return w.overloaded.Load() }

// SetOverloaded lets tests and higher-level scheduling logic flip the
// overload flag the backpressure checks consult.
func (w *inlineWorker) SetOverloaded(v bool) { w.overloaded.Store(v) }

func (w *inlineWorker) Submit(job StatelessJob) {
	select {
	case w.jobs <- job:
	default:
		w.logger.Debug("dropping stateless job, worker queue full", "kind", job.Kind)
		job.Binding.statelessTable.Release(job.Ctx, false)
	}
}

func (w *inlineWorker) Stop() { close(w.done) }

// processStatelessJob is the slow-path body: build the wire response and
// hand it to the datapath, then release the stateless context. This is
// the only place in the package allowed to block.
func processStatelessJob(job StatelessJob) {
	b := job.Binding
	defer b.statelessTable.Release(job.Ctx, false)

	var payload []byte
	var err error
	switch job.Kind {
	case OpVersionNegotiation:
		payload, err = b.buildVersionNegotiation(job.Packet)
	case OpRetry:
		payload, err = b.buildRetry(job.Packet)
	case OpReset:
		payload, err = b.buildStatelessReset(job.Packet)
	}
	if err != nil {
		b.logger.Debug("stateless response build failed", "kind", job.Kind, "err", err)
		return
	}
	if payload == nil {
		return
	}

	sctx := b.AllocSendContext()
	copy(sctx.AllocDatagram(len(payload)), payload)
	if err := sctx.SendTo(job.Packet.Datagram.Remote); err != nil {
		b.logger.Debug("stateless response send failed", "kind", job.Kind, "err", err)
	}
}
