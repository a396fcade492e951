package analyzer

import (
	"strings"
	"sync"
	"testing"

	"gotest.tools/v3/assert"
)

func TestErrorKind(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		name     string
		priority int
	}{
		{TSSyncLoss, "ts_sync_loss", 1},
		{ContinuityCounterError, "continuity_count_error", 1},
		{PIDError, "pid_error", 1},
		{TransportError, "transport_error", 2},
		{CATError, "cat_error", 2},
		{UnreferencedPIDError, "unreferenced_pid", 3},
		{RTPSequenceError, "rtp_sequence_error", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind.String(), tt.name)
			assert.Equal(t, tt.kind.Priority(), tt.priority)
		})
	}
	assert.Equal(t, len(ErrorKinds()), 14)
	assert.Equal(t, ErrorKind(99).Priority(), 0)
}

func TestTR101290Errors(t *testing.T) {
	errs := NewTR101290Errors()
	errs.Add(PATError)
	errs.Add(PATError)
	errs.Add(PTSError)
	errs.Add(ErrorKind(-1))

	snap := errs.Snapshot()
	assert.Equal(t, snap.PATErrors, uint64(2))
	assert.Equal(t, snap.PTSErrors, uint64(1))
	assert.Equal(t, snap.ContinuityCounterErrors, uint64(0))

	out := errs.String()
	assert.Assert(t, strings.Contains(out, "Priority 1: ts_sync_loss=0 sync_byte_error=0 pat_error=2"))
	assert.Assert(t, strings.Contains(out, "pts_error=1"))
	assert.Equal(t, strings.Count(out, "\n"), 3)

	errs.Reset()
	assert.Equal(t, errs.Snapshot(), TR101290Counts{})
}

func TestTR101290Errors_Concurrent(t *testing.T) {
	errs := NewTR101290Errors()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				errs.Add(ContinuityCounterError)
				_ = errs.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, errs.Get(ContinuityCounterError), uint64(1000))
}

func TestRoles(t *testing.T) {
	r := NewRoles()
	assert.Equal(t, r.Get(0), RolePAT)
	assert.Equal(t, r.Get(1), RoleCAT)
	assert.Equal(t, r.Get(0x1fff), RoleNull)
	assert.Equal(t, r.Get(0x100), RoleUnknown)

	r.Set(0x100, RolePES)
	r.Set(0x1f0, RoleForStreamType(0x86))
	assert.Equal(t, r.Get(0x1f0), RoleSCTE35)
	assert.Equal(t, r.Len(), 5)

	r.Delete(0)
	r.Delete(0x100)
	assert.Equal(t, r.Get(0), RolePAT)
	assert.Equal(t, r.Get(0x100), RoleUnknown)

	r.Reset()
	assert.Equal(t, r.Len(), 3)
	assert.Assert(t, RolePMT.IsPSI())
	assert.Assert(t, !RolePCR.IsPSI())
	assert.Equal(t, RoleSCTE35.String(), "SCTE35")
}
