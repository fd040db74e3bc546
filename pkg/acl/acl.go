// Package acl implements community and manager based access control for
// SNMP requests, and the trap destinations configured alongside it.
package acl

import (
	"fmt"
	"net/netip"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/psaab/snmpagentd/pkg/snmp"
)

// Access levels.
const (
	ReadOnly  = "read-only"
	ReadWrite = "read-write"
)

// File is the on-disk ACL format.
//
//	acl:
//	  - communities: [public]
//	    access: read-only
//	    managers: [192.0.2.0/24, 2001:db8::1]
//	traps:
//	  - community: public
//	    hosts: [192.0.2.1, "192.0.2.2:10162"]
type File struct {
	ACL   []EntryConfig `yaml:"acl"`
	Traps []TrapConfig  `yaml:"traps"`
}

// EntryConfig grants access to managers using one of the communities. An
// entry without managers applies to every source address.
type EntryConfig struct {
	Communities []string `yaml:"communities"`
	Access      string   `yaml:"access"`
	Managers    []string `yaml:"managers"`
}

// TrapConfig is a group of trap destinations sharing a community.
type TrapConfig struct {
	Community string   `yaml:"community"`
	Hosts     []string `yaml:"hosts"`
}

// TrapTarget is one trap destination.
type TrapTarget struct {
	Community string
	Addr      netip.AddrPort
}

// DefaultTrapPort is used for trap hosts given without a port.
const DefaultTrapPort = 162

type rule struct {
	communities map[string]bool
	write       bool
	managers    []netip.Prefix
}

// ACL is an immutable access control list.
type ACL struct {
	rules []rule
	traps []TrapTarget
}

// Parse parses an ACL in the YAML file format.
func Parse(data []byte) (*ACL, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("acl: %w", err)
	}
	return New(f)
}

// Load reads and parses the ACL file at path.
func Load(path string) (*ACL, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("acl: %w", err)
	}
	a, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w (file %s)", err, path)
	}
	return a, nil
}

// New builds an ACL from its configuration.
func New(f File) (*ACL, error) {
	a := &ACL{}
	for i, e := range f.ACL {
		r, err := newRule(e)
		if err != nil {
			return nil, fmt.Errorf("acl: entry %d: %w", i+1, err)
		}
		a.rules = append(a.rules, r)
	}
	for i, tc := range f.Traps {
		if tc.Community == "" {
			return nil, fmt.Errorf("acl: trap group %d: missing community", i+1)
		}
		for _, h := range tc.Hosts {
			addr, err := parseTrapHost(h)
			if err != nil {
				return nil, fmt.Errorf("acl: trap group %d: %w", i+1, err)
			}
			a.traps = append(a.traps, TrapTarget{Community: tc.Community, Addr: addr})
		}
	}
	return a, nil
}

// FromCommunities builds an ACL granting each community, keyed by name, the
// given access level from any manager.
func FromCommunities(communities map[string]string) (*ACL, error) {
	var f File
	for name, access := range communities {
		f.ACL = append(f.ACL, EntryConfig{Communities: []string{name}, Access: access})
	}
	return New(f)
}

func newRule(e EntryConfig) (rule, error) {
	if len(e.Communities) == 0 {
		return rule{}, fmt.Errorf("no communities")
	}
	r := rule{communities: make(map[string]bool, len(e.Communities))}
	for _, c := range e.Communities {
		r.communities[c] = true
	}

	switch strings.ToLower(e.Access) {
	case "", ReadOnly:
	case ReadWrite:
		r.write = true
	default:
		return rule{}, fmt.Errorf("unknown access %q", e.Access)
	}

	for _, m := range e.Managers {
		p, err := parseManager(m)
		if err != nil {
			return rule{}, err
		}
		r.managers = append(r.managers, p)
	}
	return r, nil
}

func parseManager(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("bad manager %q: %w", s, err)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("bad manager %q: %w", s, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func parseTrapHost(s string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("bad trap host %q: %w", s, err)
	}
	return netip.AddrPortFrom(addr.Unmap(), DefaultTrapPort), nil
}

func (r *rule) matches(addr netip.Addr, community string) bool {
	if !r.communities[community] {
		return false
	}
	if len(r.managers) == 0 {
		return true
	}
	for _, p := range r.managers {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// CheckPermission reports whether a manager at addr using community may
// perform an operation of the given kind. Set needs read-write access;
// everything else needs read access.
func (a *ACL) CheckPermission(addr netip.Addr, community string, kind snmp.Kind) bool {
	addr = addr.Unmap()
	for i := range a.rules {
		r := &a.rules[i]
		if !r.matches(addr, community) {
			continue
		}
		if kind != snmp.KindSet || r.write {
			return true
		}
	}
	return false
}

// CheckCommunity reports whether community appears in any entry.
func (a *ACL) CheckCommunity(community string) bool {
	for i := range a.rules {
		if a.rules[i].communities[community] {
			return true
		}
	}
	return false
}

// TrapTargets returns the configured trap destinations.
func (a *ACL) TrapTargets() []TrapTarget {
	return a.traps
}
