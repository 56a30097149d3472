package idgen

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Snowflake layout, 64 bits:
//
//	0 | 41 bit ms timestamp | 10 bit worker id | 12 bit sequence
//
// Ids are unique per worker and roughly time ordered, which keeps the
// transaction_no and entry_no indexes append-friendly.

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// Init sets the worker id of the process-wide generator. Only the first
// call has any effect.
func Init(workerID int64) {
	once.Do(func() {
		if workerID < 0 || workerID > maxWorkerID {
			log.Fatalf("idgen: worker id must be within 0-%d", maxWorkerID)
		}
		defaultGenerator = &Snowflake{workerID: workerID}
	})
}

func NextID() int64 {
	Init(1)
	return defaultGenerator.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// sequence exhausted, spin to the next millisecond
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateTransactionNo returns a funding transaction number,
// e.g. FND20240115-123456789012345.
func GenerateTransactionNo() string {
	return withPrefix("FND")
}

// GenerateLedgerEntryNo returns a wallet ledger entry number.
func GenerateLedgerEntryNo() string {
	return withPrefix("LED")
}

// GenerateOperationNo returns the reference for an approved guarded operation.
func GenerateOperationNo() string {
	return withPrefix("OPR")
}

func withPrefix(prefix string) string {
	return fmt.Sprintf("%s%s-%d", prefix, time.Now().UTC().Format("20060102"), NextID())
}
