package state

import (
	"fmt"

	"nhbmarket/native/common"
)

var quotaPrefix = []byte("quota/")

type storedQuota struct {
	ReqCount uint32
	EpochID  uint64
}

func quotaKey(module string, addr []byte) []byte {
	key := make([]byte, 0, len(quotaPrefix)+len(module)+1+len(addr))
	key = append(key, quotaPrefix...)
	key = append(key, module...)
	key = append(key, '/')
	return append(key, addr...)
}

// QuotaGet loads the usage counters of addr for module.
func (m *Manager) QuotaGet(module string, addr []byte) (common.QuotaNow, error) {
	var stored storedQuota
	if _, err := m.KVGet(quotaKey(module, addr), &stored); err != nil {
		return common.QuotaNow{}, fmt.Errorf("load quota: %w", err)
	}
	return common.QuotaNow{ReqCount: stored.ReqCount, EpochID: stored.EpochID}, nil
}

// QuotaPut stages the usage counters of addr for module.
func (m *Manager) QuotaPut(module string, addr []byte, now common.QuotaNow) error {
	return m.KVPut(quotaKey(module, addr), &storedQuota{ReqCount: now.ReqCount, EpochID: now.EpochID})
}
