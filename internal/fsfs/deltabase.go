package fsfs

// NoderevReader resolves a node id to its noderev, used by DeltaBase to
// walk the predecessor chain without needing direct filesystem access.
// This keeps the selection arithmetic a pure, independently testable
// function.
type NoderevReader interface {
	ReadNoderev(id ID) (*Noderev, error)
}

// DeltaPolicy carries the two tunables that shape skip-delta selection.
type DeltaPolicy struct {
	MaxLinearDeltification int64
	MaxDeltificationWalk   int64
}

// ChooseDeltaBase selects the base representation for a new delta on n,
// implementing the skip-delta arithmetic:
//
//  1. predecessor_count == 0 -> no base (self-delta).
//  2. count = predecessor_count & (predecessor_count - 1): clearing the
//     low set bit gives the skip-delta target index.
//  3. walk = predecessor_count - count; if walk < MaxLinearDeltification,
//     force a linear chain near the head (count = predecessor_count - 1).
//  4. if walk > MaxDeltificationWalk, reset the chain (no base) to bound
//     historical-access cost.
//  5. walk backwards (predecessor_count - count) steps from n to reach
//     the chosen base noderev.
//  6. pick base.PropsRep or base.DataRep per forProps.
//  7. if a shared rep was observed along the walk, estimate the chain
//     length rooted at the base with deltaChainLength; if it's >=
//     2*MaxLinearDeltification+2, discard the base (no base). The "+2" in
//     that constant is not documented upstream.
func ChooseDeltaBase(reader NoderevReader, n *Noderev, forProps bool, policy DeltaPolicy) (*RepRef, error) {
	if n.PredecessorCount == 0 {
		return nil, nil
	}

	count := n.PredecessorCount & (n.PredecessorCount - 1)
	walk := n.PredecessorCount - count
	if walk < policy.MaxLinearDeltification {
		count = n.PredecessorCount - 1
		walk = n.PredecessorCount - count
	}
	if walk > policy.MaxDeltificationWalk {
		return nil, nil
	}

	steps := n.PredecessorCount - count
	cur := n
	sawSharedRep := false
	chainLen := int64(0)
	for i := int64(0); i < steps; i++ {
		if cur.PredecessorID == nil {
			return nil, newErr(KindCorrupt, "predecessor chain shorter than predecessor_count", nil)
		}
		pred, err := reader.ReadNoderev(*cur.PredecessorID)
		if err != nil {
			return nil, err
		}
		if repIsShared(pred, forProps) {
			sawSharedRep = true
		}
		chainLen++
		cur = pred
	}

	base := selectRep(cur, forProps)
	if base == nil {
		return nil, nil
	}

	if sawSharedRep {
		walked, err := deltaChainLength(reader, cur, forProps, policy.MaxDeltificationWalk)
		if err != nil {
			return nil, err
		}
		if walked >= 2*policy.MaxLinearDeltification+2 {
			return nil, nil
		}
	}

	return base, nil
}

func selectRep(n *Noderev, forProps bool) *RepRef {
	if forProps {
		return n.PropsRep
	}
	return n.DataRep
}

// repIsShared reports whether n's relevant rep appears to be shared: its
// revision is newer than what a straightforward walk from n would expect,
// indicating the owner points back into an earlier rep that other
// branches also reference.
func repIsShared(n *Noderev, forProps bool) bool {
	rep := selectRep(n, forProps)
	if rep == nil || rep.IsMutable() {
		return false
	}
	return rep.Revision > idRev(n.ID)
}

func idRev(id ID) int64 {
	if id.IsMutable() {
		return InvalidRevision
	}
	return id.Rev
}

// deltaChainLength counts predecessor hops back from base for as long as
// both the current noderev and its predecessor carry the relevant rep,
// stopping at a node with no predecessor or no such rep, or once the count
// exceeds maxWalk. It does not read rep headers: the on-disk DELTA base
// chain is not followed, and a PLAIN rep along the way does not end the
// count.
func deltaChainLength(reader NoderevReader, base *Noderev, forProps bool, maxWalk int64) (int64, error) {
	cur := base
	var length int64
	for length <= maxWalk {
		rep := selectRep(cur, forProps)
		if rep == nil || cur.PredecessorID == nil {
			return length, nil
		}
		pred, err := reader.ReadNoderev(*cur.PredecessorID)
		if err != nil {
			return 0, err
		}
		predRep := selectRep(pred, forProps)
		if predRep == nil {
			return length, nil
		}
		length++
		cur = pred
	}
	return length, nil
}
