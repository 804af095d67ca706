package ledger

import "github.com/luca-patrignani/ztp-quorum/registry"

// Outcome is the final decision of an access request.
type Outcome string

const (
	OutcomeGenesis Outcome = "genesis"
	OutcomeGranted Outcome = "granted"
	OutcomeDenied  Outcome = "denied"
)

// Access is the content of an access log record.
type Access struct {
	Round      string            `json:"round"`
	Seeker     registry.SeekerID `json:"seeker"`
	Block      registry.BlockID  `json:"block"`
	Outcome    Outcome           `json:"outcome"`
	Validators []registry.NodeID `json:"validators"`
	Quorum     int               `json:"quorum"`
	Rounds     int               `json:"rounds"`
}

// Record rappresenta un blocco nel registro degli accessi
type Record struct {
	Index     int    `json:"index"`
	Timestamp int64  `json:"timestamp"`
	PrevHash  string `json:"prev_hash"`
	Hash      string `json:"hash"`
	Access    Access `json:"access"`
}
