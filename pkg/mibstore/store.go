// Package mibstore is a writable MIB subtree persisted in SQLite.
package mibstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sort"
	"strconv"
	"sync"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/psaab/snmpagentd/pkg/agent"
	"github.com/psaab/snmpagentd/pkg/snmp"
)

const schema = `CREATE TABLE IF NOT EXISTS objects (
	oid    TEXT PRIMARY KEY,
	syntax INTEGER NOT NULL,
	value  BLOB
)`

// Config configures a Store.
type Config struct {
	Path string   // database file; ":memory:" for a private in-memory store
	Root snmp.OID // subtree served

	// AllowCreate lets a Set add instances that do not exist yet.
	AllowCreate bool
}

// Store serves the instances kept in the objects table. Reads are answered
// from an in-memory index that is updated after every committed Set.
type Store struct {
	db          *sql.DB
	root        snmp.OID
	allowCreate bool

	mu    sync.RWMutex
	index []snmp.VarBind // sorted by OID
}

// Open opens (or creates) the database at cfg.Path and loads the index.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if len(cfg.Root) == 0 {
		return nil, errors.New("mibstore: root OID is required")
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("mibstore: open %q: %w", cfg.Path, err)
	}
	// One writer; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range append(pragmas, schema) {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("mibstore: exec %q: %w", p, err)
		}
	}

	s := &Store{db: db, root: cfg.Root.Clone(), allowCreate: cfg.AllowCreate}
	if err := s.load(ctx); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("MIB store opened", "path", cfg.Path, "root", s.root.String(), "objects", len(s.index))
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Root returns the subtree served by s.
func (s *Store) Root() snmp.OID { return s.root }

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT oid, syntax, value FROM objects")
	if err != nil {
		return fmt.Errorf("mibstore: load: %w", err)
	}
	defer rows.Close()

	var index []snmp.VarBind
	for rows.Next() {
		var (
			oidStr string
			syntax int
			raw    []byte
		)
		if err := rows.Scan(&oidStr, &syntax, &raw); err != nil {
			return fmt.Errorf("mibstore: load: %w", err)
		}
		oid, err := snmp.ParseOID(oidStr)
		if err != nil {
			return fmt.Errorf("mibstore: load: %w", err)
		}
		if !s.contains(oid) {
			slog.Warn("MIB store object outside root ignored", "oid", oidStr, "root", s.root.String())
			continue
		}
		val, err := decodeValue(snmp.Syntax(syntax), raw)
		if err != nil {
			return fmt.Errorf("mibstore: load %s: %w", oidStr, err)
		}
		index = append(index, snmp.VarBind{OID: oid, Value: val})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("mibstore: load: %w", err)
	}
	sortVarBinds(index)

	s.mu.Lock()
	s.index = index
	s.mu.Unlock()
	return nil
}

// contains reports whether oid is an instance inside the served subtree.
func (s *Store) contains(oid snmp.OID) bool {
	return len(oid) > len(s.root) && oid.HasPrefix(s.root)
}

// Put writes vbs without the Set checks, creating missing instances. It is
// used to seed the store.
func (s *Store) Put(ctx context.Context, vbs ...snmp.VarBind) error {
	for _, vb := range vbs {
		if !s.contains(vb.OID) {
			return fmt.Errorf("mibstore: %s is outside %s", vb.OID, s.root)
		}
		if !storable(vb.Value.Syntax) {
			return fmt.Errorf("mibstore: %s: syntax 0x%02x cannot be stored", vb.OID, byte(vb.Value.Syntax))
		}
	}
	return s.write(ctx, vbs)
}

// write stores vbs in one transaction, then updates the index.
func (s *Store) write(ctx context.Context, vbs []snmp.VarBind) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mibstore: begin tx: %w", err)
	}
	for _, vb := range vbs {
		raw, err := encodeValue(vb.Value)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("mibstore: %s: %w", vb.OID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO objects (oid, syntax, value) VALUES (?, ?, ?)
			 ON CONFLICT(oid) DO UPDATE SET syntax = excluded.syntax, value = excluded.value`,
			vb.OID.String(), int(vb.Value.Syntax), raw)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("mibstore: write %s: %w", vb.OID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mibstore: commit: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, vb := range vbs {
		vb = snmp.VarBind{OID: vb.OID.Clone(), Value: vb.Value}
		i, found := s.search(vb.OID)
		if found {
			s.index[i] = vb
		} else {
			s.index = slices.Insert(s.index, i, vb)
		}
	}
	return nil
}

// search returns the position of oid in the index. Caller holds mu.
func (s *Store) search(oid snmp.OID) (int, bool) {
	i := sort.Search(len(s.index), func(i int) bool {
		return s.index[i].OID.Compare(oid) >= 0
	})
	return i, i < len(s.index) && s.index[i].OID.Equal(oid)
}

// Lookup implements agent.Walker.
func (s *Store) Lookup(oid snmp.OID) snmp.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.search(oid); ok {
		return s.index[i].Value
	}
	return snmp.NoSuchObject
}

// Next implements agent.Walker.
func (s *Store) Next(oid snmp.OID) (snmp.VarBind, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.index), func(i int) bool {
		return s.index[i].OID.Compare(oid) > 0
	})
	if i < len(s.index) {
		return s.index[i], true
	}
	return snmp.VarBind{}, false
}

func (s *Store) Get(_ context.Context, req *agent.Request) error {
	agent.FillGet(req, s)
	return nil
}

func (s *Store) GetNext(_ context.Context, req *agent.Request) error {
	agent.FillNext(req, s)
	return nil
}

func (s *Store) GetBulk(_ context.Context, req *agent.Request) error {
	agent.FillBulk(req, s)
	return nil
}

// CheckSet validates every entry: the instance must be inside the subtree,
// the value storable and, for an existing instance, of the same syntax.
// Missing instances are accepted only when creation is allowed.
func (s *Store) CheckSet(_ context.Context, req *agent.Request) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, e := range req.Entries {
		vb := e.VarBind
		if !s.contains(vb.OID) {
			return snmp.NewStatusError(snmp.NotWritable, i)
		}
		if !storable(vb.Value.Syntax) {
			return snmp.NewStatusError(snmp.WrongType, i)
		}
		k, found := s.search(vb.OID)
		switch {
		case found && s.index[k].Value.Syntax != vb.Value.Syntax:
			return snmp.NewStatusError(snmp.WrongType, i)
		case !found && !s.allowCreate:
			return snmp.NewStatusError(snmp.NoCreation, i)
		}
		if _, err := encodeValue(vb.Value); err != nil {
			return snmp.NewStatusError(snmp.WrongEncoding, i)
		}
	}
	return nil
}

// CommitSet writes the entries in one transaction.
func (s *Store) CommitSet(ctx context.Context, req *agent.Request) error {
	vbs := make([]snmp.VarBind, len(req.Entries))
	for i, e := range req.Entries {
		vbs[i] = e.VarBind
	}
	if err := s.write(ctx, vbs); err != nil {
		slog.Error("MIB store commit failed", "err", err)
		return snmp.NewStatusError(snmp.CommitFailed, 0)
	}
	return nil
}

func sortVarBinds(vbs []snmp.VarBind) {
	slices.SortFunc(vbs, func(a, b snmp.VarBind) int {
		return a.OID.Compare(b.OID)
	})
}

func storable(syntax snmp.Syntax) bool {
	switch syntax {
	case snmp.SyntaxInteger, snmp.SyntaxOctetString, snmp.SyntaxOpaque,
		snmp.SyntaxObjectIdentifier, snmp.SyntaxIPAddress,
		snmp.SyntaxCounter32, snmp.SyntaxGauge32, snmp.SyntaxTimeTicks,
		snmp.SyntaxCounter64:
		return true
	}
	return false
}

// encodeValue converts v to its column form: raw bytes for strings, the
// dotted or decimal text for everything else.
func encodeValue(v snmp.Value) ([]byte, error) {
	switch d := v.Data.(type) {
	case []byte:
		return d, nil
	case int:
		return strconv.AppendInt(nil, int64(d), 10), nil
	case uint32:
		return strconv.AppendUint(nil, uint64(d), 10), nil
	case uint64:
		return strconv.AppendUint(nil, d, 10), nil
	case snmp.OID:
		return []byte(d.String()), nil
	case netip.Addr:
		if !d.Is4() {
			return nil, errors.New("ip address is not IPv4")
		}
		return []byte(d.String()), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v.Data)
}

func decodeValue(syntax snmp.Syntax, raw []byte) (snmp.Value, error) {
	s := string(raw)
	switch syntax {
	case snmp.SyntaxOctetString, snmp.SyntaxOpaque:
		return snmp.Value{Syntax: syntax, Data: slices.Clone(raw)}, nil
	case snmp.SyntaxInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return snmp.Value{}, err
		}
		return snmp.Integer(int(n)), nil
	case snmp.SyntaxCounter32, snmp.SyntaxGauge32, snmp.SyntaxTimeTicks:
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return snmp.Value{}, err
		}
		return snmp.Value{Syntax: syntax, Data: uint32(n)}, nil
	case snmp.SyntaxCounter64:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return snmp.Value{}, err
		}
		return snmp.Counter64(n), nil
	case snmp.SyntaxObjectIdentifier:
		oid, err := snmp.ParseOID(s)
		if err != nil {
			return snmp.Value{}, err
		}
		return snmp.ObjectIdentifier(oid), nil
	case snmp.SyntaxIPAddress:
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return snmp.Value{}, err
		}
		return snmp.IPAddress(addr), nil
	}
	return snmp.Value{}, fmt.Errorf("unsupported syntax 0x%02x", byte(syntax))
}
