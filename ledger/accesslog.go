package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/luca-patrignani/ztp-quorum/registry"
)

// AccessLog is the append-only log of access decisions. Records are hash
// chained, so any modification of a past record is detected by Verify.
type AccessLog struct {
	mu      sync.RWMutex
	records []Record
	byBlock map[registry.BlockID][]int
	now     func() time.Time
}

type logOption func(*AccessLog)

// WithClock replaces the clock used to timestamp records.
func WithClock(now func() time.Time) logOption {
	return func(l *AccessLog) { l.now = now }
}

// NewAccessLog creates a log with an initialized genesis record.
// The genesis record has index 0 and previous hash "0".
func NewAccessLog(opts ...logOption) *AccessLog {
	l := &AccessLog{
		records: make([]Record, 0),
		byBlock: make(map[registry.BlockID][]int),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	// Crea genesis record
	genesis := Record{
		Index:     0,
		Timestamp: l.now().UnixNano(),
		PrevHash:  "0",
		Access:    Access{Outcome: OutcomeGenesis},
	}
	genesis.Hash = calculateHash(genesis)
	l.records = append(l.records, genesis)

	return l
}

// Append adds a new record for the access decision. It calculates the record
// hash, validates it against the previous record and appends it. Granted
// records must carry at least Quorum validators.
func (l *AccessLog) Append(a Access) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if a.Outcome != OutcomeGranted && a.Outcome != OutcomeDenied {
		return Record{}, fmt.Errorf("invalid outcome %q", a.Outcome)
	}
	latest := l.records[len(l.records)-1]

	a.Validators = slices.Clone(a.Validators)
	record := Record{
		Index:     latest.Index + 1,
		Timestamp: l.now().UnixNano(),
		PrevHash:  latest.Hash,
		Access:    a,
	}
	record.Hash = calculateHash(record)

	if err := validateRecord(record, latest); err != nil {
		return Record{}, fmt.Errorf("invalid record: %w", err)
	}

	l.records = append(l.records, record)
	l.byBlock[a.Block] = append(l.byBlock[a.Block], record.Index)
	return record, nil
}

// GetLatest returns the most recently added record.
func (l *AccessLog) GetLatest() Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.records[len(l.records)-1]
}

// GetByIndex retrieves a record by its index. Returns an error if the index
// is out of range.
func (l *AccessLog) GetByIndex(index int) (Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index < 0 || index >= len(l.records) {
		return Record{}, fmt.Errorf("index out of range")
	}
	return l.records[index], nil
}

// ByBlock returns the records of a block in log order.
func (l *AccessLog) ByBlock(block registry.BlockID) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, 0, len(l.byBlock[block]))
	for _, i := range l.byBlock[block] {
		out = append(out, l.records[i])
	}
	return out
}

// Len returns the number of records, genesis included.
func (l *AccessLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Verify validates the integrity of the whole log by checking the genesis
// record and each subsequent record's hash, index and previous hash.
func (l *AccessLog) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	// Verifica genesis
	if l.records[0].PrevHash != "0" || l.records[0].Hash != calculateHash(l.records[0]) {
		return fmt.Errorf("invalid genesis record")
	}

	for i := 1; i < len(l.records); i++ {
		if err := validateRecord(l.records[i], l.records[i-1]); err != nil {
			return fmt.Errorf("record %d invalid: %w", i, err)
		}
	}
	return nil
}

// validateRecord verifies that a record is valid relative to the previous one.
func validateRecord(current, previous Record) error {
	if current.Index != previous.Index+1 {
		return fmt.Errorf("invalid index: expected %d, got %d", previous.Index+1, current.Index)
	}

	if current.PrevHash != previous.Hash {
		return fmt.Errorf("invalid prev hash: expected %s, got %s", previous.Hash, current.PrevHash)
	}

	expectedHash := calculateHash(current)
	if current.Hash != expectedHash {
		return fmt.Errorf("invalid hash: expected %s, got %s", expectedHash, current.Hash)
	}

	// Verifica quorum
	if current.Access.Outcome == OutcomeGranted && len(current.Access.Validators) < current.Access.Quorum {
		return fmt.Errorf("insufficient validators: got %d, need %d", len(current.Access.Validators), current.Access.Quorum)
	}

	return nil
}

// calculateHash computes the SHA256 hash of a record from its index,
// timestamp, previous hash and JSON encoded access.
func calculateHash(r Record) string {
	accessBytes, _ := json.Marshal(r.Access)

	data := fmt.Sprintf("%d%d%s%s",
		r.Index,
		r.Timestamp,
		r.PrevHash,
		string(accessBytes),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
