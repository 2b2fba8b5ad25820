package replay

import (
	"errors"
	"fmt"
)

var (
	errMissingSeq    = errors.New("instruction has no seq in an explicitly numbered stream")
	errUnexpectedSeq = errors.New("instruction has a seq in a line-numbered stream")
	errSeqOrder      = errors.New("seq does not increase")
)

type seqScheme int

const (
	seqUnset seqScheme = iota
	seqExplicit
	seqByLine
)

// sequencer numbers the instructions of one stream. The first parsed
// instruction fixes the scheme: explicit seqs when it carries one, line
// numbers otherwise. Instructions that break the scheme are rejected
// and never move last, so the two numberings cannot overlap.
type sequencer struct {
	scheme seqScheme
	last   uint64
}

// assign returns the seq of the instruction on line. The seq is also
// returned alongside an ordering error so the reject can name it.
func (s *sequencer) assign(line, seq uint64) (uint64, error) {
	if s.scheme == seqUnset {
		if seq != 0 {
			s.scheme = seqExplicit
		} else {
			s.scheme = seqByLine
		}
	}

	if s.scheme == seqByLine {
		s.last = line
		if seq != 0 {
			return line, fmt.Errorf("%w: seq %d on line %d", errUnexpectedSeq, seq, line)
		}
		return line, nil
	}

	if seq == 0 {
		return 0, fmt.Errorf("%w: line %d", errMissingSeq, line)
	}
	if seq <= s.last {
		return seq, fmt.Errorf("%w: %d after %d", errSeqOrder, seq, s.last)
	}
	s.last = seq
	return seq, nil
}

// unparsed numbers a line that is not a valid instruction. Only a
// line-numbered stream can give it a seq.
func (s *sequencer) unparsed(line uint64) uint64 {
	if s.scheme != seqByLine {
		return 0
	}
	s.last = line
	return line
}
