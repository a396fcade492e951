// Package mpegts implements the MPEG transport stream wire format:
// packet headers, adaptation fields, PSI sections and PES timestamps.
package mpegts

import (
	"errors"
)

// MPEGTS errors
var (
	ErrDataTooLong     = errors.New("data too long")
	ErrInvalidPacket   = errors.New("invalid MPEGTS packet")
	ErrInvalidPointer  = errors.New("pointer field out of range")
	ErrSectionTooShort = errors.New("section too short")
	ErrSectionTooLong  = errors.New("section too long")
	ErrNoSectionSyntax = errors.New("section syntax indicator not set")
	ErrUnexpectedTable = errors.New("unexpected table id")
	ErrInvalidSection  = errors.New("invalid section layout")
	ErrCRCMismatch     = errors.New("CRC32 mismatch")
)

// PID constants
const (
	PIDPAT  = 0x0    // Program Association Table (PAT) contains a directory listing of all Program Map Tables.
	PIDCAT  = 0x1    // Conditional Access Table (CAT) contains a directory listing of all EMM streams.
	PIDTSDT = 0x2    // Transport Stream Description Table (TSDT) contains descriptors related to the overall transport stream
	PIDNull = 0x1fff // Null Packet (used for fixed bandwidth padding)

	// PIDReservedEnd is the first PID which is not reserved for tables
	PIDReservedEnd = 0x20
	// PIDMax is one past the largest valid PID
	PIDMax = 0x2000
	// PIDUnresolved marks an unresolved PMT PID or program number
	PIDUnresolved = 0xffff
)
