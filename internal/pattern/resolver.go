package pattern

import "github.com/Veraticus/receipt-reconciler/internal/model"

// Side names which entity of a file/transaction pair an assignment lives on.
type Side string

const (
	// SideNone means nothing is synced.
	SideNone Side = ""
	// SideFile is the receipt file.
	SideFile Side = "file"
	// SideTransaction is the bank transaction.
	SideTransaction Side = "transaction"
)

// Resolution is the outcome of comparing two partner assignments. When
// ShouldSync is set, Winner is copied to the side opposite Source.
type Resolution struct {
	Winner     model.Assignment
	Source     Side
	ShouldSync bool
}

// Resolver decides which side's partner wins when a file and a transaction
// are linked. The zero value breaks confidence ties in favor of the
// transaction.
type Resolver struct {
	// TieBreak picks the winner when neither side is manual and the
	// confidences are equal.
	TieBreak Side
}

// DefaultTieBreak is the bank statement: for automatic matches it is treated
// as the more authoritative source.
const DefaultTieBreak = SideTransaction

// Resolve applies the default resolver.
func Resolve(file, txn model.Assignment) Resolution {
	return Resolver{}.Resolve(file, txn)
}

// Resolve is a pure decision over the two assignments:
//
//  1. neither assigned: no sync
//  2. one assigned: copy it to the other side
//  3. both manual: no sync, both are intentional
//  4. one manual: the manual side wins
//  5. otherwise: higher confidence wins, ties go to TieBreak
//
// A winner equal to the loser's current partner needs no sync.
func (r Resolver) Resolve(file, txn model.Assignment) Resolution {
	fileSet, txnSet := file.Assigned(), txn.Assigned()

	switch {
	case !fileSet && !txnSet:
		return Resolution{}
	case fileSet && !txnSet:
		return syncFrom(SideFile, file)
	case !fileSet && txnSet:
		return syncFrom(SideTransaction, txn)
	}

	fileManual := file.MatchedBy == model.MatchSourceManual
	txnManual := txn.MatchedBy == model.MatchSourceManual

	var res Resolution
	switch {
	case fileManual && txnManual:
		return Resolution{}
	case fileManual:
		res = syncFrom(SideFile, file)
	case txnManual:
		res = syncFrom(SideTransaction, txn)
	case file.Confidence > txn.Confidence:
		res = syncFrom(SideFile, file)
	case txn.Confidence > file.Confidence:
		res = syncFrom(SideTransaction, txn)
	case r.tieBreak() == SideFile:
		res = syncFrom(SideFile, file)
	default:
		res = syncFrom(SideTransaction, txn)
	}

	if file.ID == txn.ID {
		res.ShouldSync = false
	}
	return res
}

func (r Resolver) tieBreak() Side {
	if r.TieBreak == SideFile {
		return SideFile
	}
	return DefaultTieBreak
}

func syncFrom(side Side, a model.Assignment) Resolution {
	return Resolution{Winner: a, Source: side, ShouldSync: true}
}

// SyncedMatchSource is the provenance recorded on the losing side: manual
// choices propagate as manual, everything else becomes auto.
func SyncedMatchSource(winner model.MatchSource) model.MatchSource {
	if winner == model.MatchSourceManual {
		return model.MatchSourceManual
	}
	return model.MatchSourceAuto
}
