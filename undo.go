package docindex

import (
	"context"
	"fmt"
	"log/slog"
)

// undoOp is one index mutation that has been applied to the key store.
type undoOp struct {
	idx *Index
	enc []byte
	key Key
	rid RID
	put bool
}

func (op undoOp) String() string {
	verb := "DEL"
	if op.put {
		verb = "PUT"
	}
	return fmt.Sprintf("%s %s %v -> %v", verb, op.idx.name, op.key, op.rid)
}

// undoLog is the ordered list of index mutations applied by a transaction.
// Reverting walks it backwards and applies the inverse of each mutation,
// which restores every index exactly: each logged mutation did change the
// store, so its inverse cannot conflict.
type undoLog struct {
	ops []undoOp
}

func (l *undoLog) Len() int { return len(l.ops) }

func (l *undoLog) add(op undoOp) {
	l.ops = append(l.ops, op)
}

// mark returns a position to revert to.
func (l *undoLog) mark() int {
	return len(l.ops)
}

// revertTo undoes, newest first, every mutation logged after mark.
func (l *undoLog) revertTo(tx *Tx, mark int) {
	for i := len(l.ops) - 1; i >= mark; i-- {
		op := l.ops[i]
		var applied bool
		var err error
		if op.put {
			applied, err = op.idx.removeEntry(tx, op.enc, op.key, op.rid)
		} else {
			applied, err = op.idx.putEntry(tx, op.enc, op.key, op.rid)
		}
		if err != nil {
			panic(fmt.Errorf("undo %v: %w", op, err))
		}
		if !applied {
			panic(fmt.Errorf("undo %v: index is out of sync with the undo log", op))
		}
		if tx.db.verbose {
			tx.db.logger.LogAttrs(context.Background(), slog.LevelDebug, "index UNDO", slog.String("op", op.String()), slog.String("tx", tx.id.String()))
		}
		l.ops[i] = undoOp{}
	}
	l.ops = l.ops[:mark]
}

func (l *undoLog) discard() {
	clear(l.ops)
	l.ops = l.ops[:0]
}
