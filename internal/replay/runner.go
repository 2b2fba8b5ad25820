package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"stakeledger/internal/model"
	"stakeledger/internal/staking"
)

// RejectSink records instructions the ledger refused.
type RejectSink interface {
	PutErrors(ctx context.Context, rejected []model.InstructionError) error
}

// RunConfig holds runtime settings for a replay.
type RunConfig struct {
	// Clock is advanced to each instruction's tick. Leave nil when the
	// ledger reads time from the chain.
	Clock *staking.ManualClock

	Checkpoint Checkpointer
	// CheckpointEvery is the number of handled instructions between
	// checkpoints. Zero checkpoints only at the end.
	CheckpointEvery int
	// Flush runs before every checkpoint so side state such as the custody
	// snapshot never lags the checkpoint.
	Flush func(ctx context.Context) error
}

// Stats summarizes a replay.
type Stats struct {
	Total    int
	Applied  int
	Rejected int
	Skipped  int
	LastSeq  uint64
}

// Runner replays a JSONL instruction stream through a ledger.
type Runner struct {
	cfg     RunConfig
	ledger  *staking.Ledger
	rejects RejectSink
	logger  *zap.Logger
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, ledger *staking.Ledger, rejects RejectSink, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, ledger: ledger, rejects: rejects, logger: logger}
}

// Run applies every instruction of r in order. Rejected instructions are
// recorded and skipped; only I/O failures stop the replay. Instructions
// already covered by the checkpoint are skipped. Seqs are either explicit
// and strictly increasing or, when the first instruction has none, line
// numbers; see sequencer.
func (r *Runner) Run(ctx context.Context, in io.Reader) (Stats, error) {
	if r.ledger == nil {
		return Stats{}, fmt.Errorf("ledger is nil")
	}

	var resumeAfter uint64
	resuming := false
	if r.cfg.Checkpoint != nil {
		last, ok, err := r.cfg.Checkpoint.Load(ctx)
		if err != nil {
			return Stats{}, err
		}
		if ok {
			resumeAfter, resuming = last, true
			r.logger.Info("resume from checkpoint", zap.Uint64("last_seq", last))
		}
	}

	scanner := bufio.NewScanner(in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	var (
		stats     Stats
		seqs      sequencer
		line      uint64
		sinceSave int
	)
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		var ins model.Instruction
		err := json.Unmarshal(raw, &ins)
		if err != nil {
			ins = model.Instruction{Seq: seqs.unparsed(line)}
			err = fmt.Errorf("parse instruction: %w", err)
		} else {
			ins.Seq, err = seqs.assign(line, ins.Seq)
		}
		if resuming && ins.Seq != 0 && ins.Seq <= resumeAfter {
			stats.Skipped++
			continue
		}
		stats.Total++

		if err == nil {
			err = r.apply(ctx, ins)
		}
		if err != nil {
			if err := r.reject(ctx, ins, line, err); err != nil {
				return stats, err
			}
			stats.Rejected++
		} else {
			stats.Applied++
		}
		stats.LastSeq = max(resumeAfter, seqs.last)
		sinceSave++

		if r.cfg.CheckpointEvery > 0 && sinceSave >= r.cfg.CheckpointEvery {
			if err := r.save(ctx, stats.LastSeq); err != nil {
				return stats, err
			}
			sinceSave = 0
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("scan input: %w", err)
	}

	if sinceSave > 0 {
		if err := r.save(ctx, stats.LastSeq); err != nil {
			return stats, err
		}
	}

	r.logger.Info("replay complete",
		zap.Int("total", stats.Total),
		zap.Int("applied", stats.Applied),
		zap.Int("rejected", stats.Rejected),
		zap.Int("skipped", stats.Skipped),
		zap.Uint64("last_seq", stats.LastSeq),
	)
	return stats, nil
}

func (r *Runner) apply(ctx context.Context, ins model.Instruction) error {
	if r.cfg.Clock != nil {
		if err := r.cfg.Clock.Set(ins.Tick); err != nil {
			return err
		}
	}
	return Apply(ctx, r.ledger, ins)
}

func (r *Runner) reject(ctx context.Context, ins model.Instruction, line uint64, cause error) error {
	r.logger.Debug("instruction rejected",
		zap.Uint64("seq", ins.Seq),
		zap.Uint64("line", line),
		zap.String("op", string(ins.Op)),
		zap.String("result", staking.ResultLabel(cause)),
		zap.Error(cause),
	)
	if r.rejects == nil {
		return nil
	}
	rec := model.InstructionError{
		Seq:    ins.Seq,
		Line:   line,
		Op:     ins.Op,
		Tick:   ins.Tick,
		Caller: ins.Caller,
		Error:  cause.Error(),
	}
	if ins.Op != "" {
		rec.Pool = ins.PoolKey()
	}
	if err := r.rejects.PutErrors(ctx, []model.InstructionError{rec}); err != nil {
		return fmt.Errorf("record rejected instruction: %w", err)
	}
	return nil
}

func (r *Runner) save(ctx context.Context, seq uint64) error {
	if r.cfg.Flush != nil {
		if err := r.cfg.Flush(ctx); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
	}
	if r.cfg.Checkpoint == nil {
		return nil
	}
	if err := r.cfg.Checkpoint.Save(ctx, seq); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
