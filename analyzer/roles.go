package analyzer

import "github.com/voc/tsmon/mpegts"

// Role is what a PID carries, as learned from the PSI tables
type Role uint8

// Role constants
const (
	RoleUnknown Role = iota
	RolePAT
	RoleCAT
	RolePMT
	RolePES
	RolePCR
	RoleSCTE35
	RoleNull
)

func (r Role) String() string {
	switch r {
	case RolePAT:
		return "PAT"
	case RoleCAT:
		return "CAT"
	case RolePMT:
		return "PMT"
	case RolePES:
		return "PES"
	case RolePCR:
		return "PCR"
	case RoleSCTE35:
		return "SCTE35"
	case RoleNull:
		return "NULL"
	default:
		return "UNKNOWN"
	}
}

// IsPSI reports whether packets of this role carry table sections
func (r Role) IsPSI() bool {
	return r == RolePAT || r == RoleCAT || r == RolePMT
}

// Roles maps PIDs to their role. The fixed table PIDs are always present.
type Roles struct {
	roles map[uint16]Role
}

// NewRoles creates a dispatcher table with PAT, CAT and null PIDs set
func NewRoles() *Roles {
	r := &Roles{}
	r.Reset()
	return r
}

// Get returns the role of pid, RoleUnknown if none was assigned
func (r *Roles) Get(pid uint16) Role {
	return r.roles[pid]
}

// Set assigns a role to pid
func (r *Roles) Set(pid uint16, role Role) {
	r.roles[pid] = role
}

// Delete removes pid, fixed table PIDs are kept
func (r *Roles) Delete(pid uint16) {
	switch pid {
	case mpegts.PIDPAT, mpegts.PIDCAT, mpegts.PIDNull:
		return
	}
	delete(r.roles, pid)
}

// Len returns the number of PIDs with a role
func (r *Roles) Len() int {
	return len(r.roles)
}

// Reset drops everything learned from the tables
func (r *Roles) Reset() {
	r.roles = map[uint16]Role{
		mpegts.PIDPAT:  RolePAT,
		mpegts.PIDCAT:  RoleCAT,
		mpegts.PIDNull: RoleNull,
	}
}

// RoleForStreamType returns the role of an elementary stream
func RoleForStreamType(streamType byte) Role {
	if streamType == mpegts.StreamTypeSCTE35 {
		return RoleSCTE35
	}
	return RolePES
}
