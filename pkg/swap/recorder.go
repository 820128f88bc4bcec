package swap

import (
	"github.com/rs/zerolog"

	"evm-swap/pkg/journal"
	"evm-swap/pkg/types"
)

// Submission describes a transaction right after it was broadcast
type Submission struct {
	Hash      string
	Kind      journal.Kind
	ChainID   uint64
	FromToken string
	ToToken   string
	Amount    string
}

// Recorder persists broadcast transactions so a hash survives a crash while
// the orchestrator is still waiting on it.
type Recorder interface {
	Submitted(s Submission) error
	Settled(hash string, receipt *types.TransactionReceipt, waitErr error) error
}

type nopRecorder struct{}

func (nopRecorder) Submitted(Submission) error { return nil }

func (nopRecorder) Settled(string, *types.TransactionReceipt, error) error { return nil }

// JournalRecorder records submissions in j
type JournalRecorder struct {
	j *journal.Journal
}

// NewJournalRecorder creates a recorder backed by the local journal
func NewJournalRecorder(j *journal.Journal) *JournalRecorder {
	return &JournalRecorder{j: j}
}

func (r *JournalRecorder) Submitted(s Submission) error {
	return r.j.Record(journal.Entry{
		Hash:      s.Hash,
		Kind:      s.Kind,
		ChainID:   s.ChainID,
		FromToken: s.FromToken,
		ToToken:   s.ToToken,
		Amount:    s.Amount,
	})
}

func (r *JournalRecorder) Settled(hash string, receipt *types.TransactionReceipt, waitErr error) error {
	return r.j.UpdateStatus(hash, StatusOf(receipt, waitErr), blockOf(receipt))
}

// StatusOf maps a wait outcome to a journal status
func StatusOf(receipt *types.TransactionReceipt, waitErr error) journal.Status {
	switch {
	case receipt != nil && receipt.Success:
		return journal.StatusConfirmed
	case receipt != nil:
		return journal.StatusReverted
	case waitErr != nil:
		return journal.StatusUnknown
	default:
		return journal.StatusPending
	}
}

func blockOf(receipt *types.TransactionReceipt) uint64 {
	if receipt == nil {
		return 0
	}
	return receipt.BlockNumber
}

// record and settle never fail the swap: the transaction is already on its way
func (o *Orchestrator) record(s Submission) {
	if err := o.recorder.Submitted(s); err != nil {
		o.log.Error().Err(err).Object("submission", s).Msg("failed to record transaction, keep this hash")
		return
	}
	o.log.Debug().Object("submission", s).Msg("transaction recorded")
}

func (o *Orchestrator) settle(hash string, receipt *types.TransactionReceipt, waitErr error) {
	if err := o.recorder.Settled(hash, receipt, waitErr); err != nil {
		o.log.Warn().Err(err).Str("tx_hash", hash).Msg("failed to update journal")
	}
}

var _ zerolog.LogObjectMarshaler = Submission{}

// MarshalZerologObject logs a submission without payload data
func (s Submission) MarshalZerologObject(e *zerolog.Event) {
	e.Str("tx_hash", s.Hash).Str("kind", string(s.Kind)).Uint64("chain_id", s.ChainID).Str("amount", s.Amount)
}
