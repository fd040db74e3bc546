// Package mib contains the MIB agents shipped with the daemon: the system
// and interfaces groups of MIB-II and the snmp statistics group.
package mib

import (
	"slices"
	"sort"

	"github.com/psaab/snmpagentd/pkg/snmp"
)

// view is a sorted snapshot of the instances of a subtree. It implements
// agent.Walker.
type view struct {
	vbs []snmp.VarBind
	// objects are the object-type OIDs; an OID below one of them that is
	// not an instance is noSuchInstance rather than noSuchObject.
	objects []snmp.OID
}

func (v *view) add(oid snmp.OID, val snmp.Value) {
	v.vbs = append(v.vbs, snmp.VarBind{OID: oid, Value: val})
}

func (v *view) sort() {
	slices.SortFunc(v.vbs, func(a, b snmp.VarBind) int {
		return a.OID.Compare(b.OID)
	})
}

func (v *view) Lookup(oid snmp.OID) snmp.Value {
	i := sort.Search(len(v.vbs), func(i int) bool {
		return v.vbs[i].OID.Compare(oid) >= 0
	})
	if i < len(v.vbs) && v.vbs[i].OID.Equal(oid) {
		return v.vbs[i].Value
	}
	for _, obj := range v.objects {
		if oid.HasPrefix(obj) {
			return snmp.NoSuchInstance
		}
	}
	return snmp.NoSuchObject
}

func (v *view) Next(oid snmp.OID) (snmp.VarBind, bool) {
	i := sort.Search(len(v.vbs), func(i int) bool {
		return v.vbs[i].OID.Compare(oid) > 0
	})
	if i < len(v.vbs) {
		return v.vbs[i], true
	}
	return snmp.VarBind{}, false
}
