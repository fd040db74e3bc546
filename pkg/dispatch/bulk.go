package dispatch

import (
	"slices"

	"github.com/psaab/snmpagentd/pkg/snmp"
)

// bulkPlan is the slot layout of a GetBulk answer: n non-repeaters
// followed by m repetitions of the r repeaters.
type bulkPlan struct {
	n, m, r int
}

// minVarBindSize is the encoded size of the smallest possible varbind: a
// one-byte OID with an empty value.
const minVarBindSize = 7

// slotLimit returns how many varbinds could at most fit in a message of
// maxSize bytes.
func slotLimit(maxSize int) int {
	return max(maxSize/minVarBindSize, 1)
}

// planBulk computes the layout for a request with l varbinds. A positive
// repCap bounds max-repetitions; a positive slotCap bounds the repetitions
// so that the repeaters fill at most the slots left after the
// non-repeaters, keeping at least one repetition.
func planBulk(l, nonRepeaters, maxRepetitions, repCap, slotCap int) bulkPlan {
	n := min(max(nonRepeaters, 0), l)
	r := l - n
	m := max(maxRepetitions, 0)
	if repCap > 0 && m > repCap {
		m = repCap
	}
	if slotCap > 0 && r > 0 && m > 1 {
		m = max(min(m, (slotCap-n)/r), 1)
	}
	return bulkPlan{n: n, m: m, r: r}
}

func (p bulkPlan) slots() int {
	return p.n + p.m*p.r
}

// slot returns the slot of repeater col in repetition rep.
func (p bulkPlan) slot(rep, col int) int {
	return p.n + rep*p.r + col
}

// source returns the request position a slot answers.
func (p bulkPlan) source(slot int) int {
	if slot < p.n || p.r == 0 {
		return slot
	}
	return p.n + (slot-p.n)%p.r
}

// entries returns a fresh entry list covering every slot. Each slot starts
// as endOfMibView at its source OID.
func (p bulkPlan) entries(vbs []snmp.VarBind) []agentEntry {
	out := make([]agentEntry, p.slots())
	for i := range out {
		src := p.source(i)
		out[i] = agentEntry{
			Index:   i,
			Source:  src,
			VarBind: snmp.VarBind{OID: vbs[src].OID, Value: snmp.EndOfMibView},
		}
	}
	return out
}

// trimmedLen returns the length of result after dropping whole trailing
// repetitions that hold nothing but endOfMibView. At least one repetition
// is kept.
func (p bulkPlan) trimmedLen(result []snmp.VarBind) int {
	l := len(result)
	if p.r == 0 {
		return l
	}
	t := l
	for t > p.n && result[t-1].Value.IsEndOfMibView() {
		t--
	}
	// Smallest whole number of repetition blocks covering t, at least one.
	k := max(1, (t-p.n+p.r-1)/p.r)
	if m2 := p.n + k*p.r; m2 < l {
		return m2
	}
	return l
}

// mergeBulk combines the replicas of a GetBulk plan. Non-repeater slots take
// the smallest successor any agent found. For each repeater, the sequences
// walked by all agents are merged in OID order; since agents own disjoint
// subtrees this yields the lexicographic walk across all of them.
func mergeBulk(req *snmp.PDU, p bulkPlan, subs []*SubRequest) []snmp.VarBind {
	out := make([]snmp.VarBind, p.slots())
	for i := 0; i < p.n; i++ {
		out[i] = bestNext(req.VarBinds[i].OID, i, subs)
	}

	var cand []snmp.VarBind
	for col := 0; col < p.r; col++ {
		start := req.VarBinds[p.n+col].OID
		cand = cand[:0]
		for _, s := range subs {
			entries := s.Request.Entries
			for rep := 0; rep < p.m; rep++ {
				slot := p.slot(rep, col)
				if slot >= len(entries) {
					break
				}
				vb := entries[slot].VarBind
				if vb.Value.IsException() {
					break
				}
				if vb.OID.Compare(start) > 0 {
					cand = append(cand, vb)
				}
			}
		}
		slices.SortStableFunc(cand, func(a, b snmp.VarBind) int {
			return a.OID.Compare(b.OID)
		})
		cand = slices.CompactFunc(cand, func(a, b snmp.VarBind) bool {
			return a.OID.Equal(b.OID)
		})

		last := start
		for rep := 0; rep < p.m; rep++ {
			slot := p.slot(rep, col)
			if rep < len(cand) {
				out[slot] = cand[rep]
				last = cand[rep].OID
			} else {
				out[slot] = snmp.VarBind{OID: last, Value: snmp.EndOfMibView}
			}
		}
	}
	return out
}
