package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaExceeded        = errors.New("quota exceeded")
	ErrQuotaCounterOverflow = errors.New("quota counter overflow")
)

// QuotaNow captures the current usage counters for an address.
type QuotaNow struct {
	ReqCount uint32
	EpochID  uint64
}

// Quota bounds how many mutating calls an address may make per epoch. A zero
// MaxRequestsPerEpoch disables the limit.
type Quota struct {
	MaxRequestsPerEpoch uint32
	EpochSeconds        uint32
}

// Enabled reports whether the quota limits anything.
func (q Quota) Enabled() bool {
	return q.MaxRequestsPerEpoch > 0 && q.EpochSeconds > 0
}

// Epoch maps a unix timestamp to the quota window it falls in.
func (q Quota) Epoch(unix int64) uint64 {
	if q.EpochSeconds == 0 || unix < 0 {
		return 0
	}
	return uint64(unix) / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether addReq more calls fit within the quota. The
// returned QuotaNow reflects the updated counters when the quota is not
// exceeded; on denial prev is returned unchanged.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}
	if next.ReqCount > math.MaxUint32-addReq {
		return prev, ErrQuotaCounterOverflow
	}
	next.ReqCount += addReq
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaExceeded
	}
	return next, nil
}
