// Package uds implements a UDS (ISO 14229) request/response server
// layered on top of an isotp.Transport: session state machine,
// SecurityAccess seed/key with a real KDF, DID/RID access gated by a
// calibration-mode registry, and the negative-response NRC table.
package uds

import (
	"crypto/sha256"
	"errors"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/hkdf"
)

// Session identifies the active diagnostic session, using the ISO
// 14229 sub-function values for DiagnosticSessionControl directly.
type Session uint8

const (
	SessionDefault      Session = 0x01
	SessionProgramming  Session = 0x02
	SessionExtended     Session = 0x03
	SessionSafetySystem Session = 0x04
)

// Service identifiers.
const (
	SIDDiagnosticSessionControl byte = 0x10
	SIDSecurityAccess           byte = 0x27
	SIDReadDataByIdentifier     byte = 0x22
	SIDWriteDataByIdentifier    byte = 0x2E
	SIDRoutineControl           byte = 0x31
	SIDTesterPresent            byte = 0x3E
)

// Negative response codes.
const (
	NRCServiceNotSupported             byte = 0x11
	NRCSubFunctionNotSupported         byte = 0x12
	NRCIncorrectMessageLength          byte = 0x13
	NRCConditionsNotCorrect            byte = 0x22
	NRCRequestOutOfRange               byte = 0x31
	NRCSecurityAccessDenied            byte = 0x33
	NRCInvalidKey                      byte = 0x35
	NRCExceededNumberOfAttempts        byte = 0x36
	NRCRequiredTimeDelayNotExpired     byte = 0x37
	NRCSubFunctionNotSupportedInSession byte = 0x7E
	NRCServiceNotSupportedInSession    byte = 0x7F
)

// RID 0xFF00 gates entry into calibration mode: a valid secp256k1
// signature over the pending calibration blob must be presented
// before calibration DIDs accept writes.
const RIDVerifyCalibrationSignature uint16 = 0xFF00

// didActiveSession (0xF186) is the standard ActiveDiagnosticSessionDataIdentifier.
const didActiveSession uint16 = 0xF186

// DataItem backs a DID for 0x22/0x2E. Write is nil for read-only DIDs.
type DataItem struct {
	Read  func() []byte
	Write func([]byte) error
}

// Routine backs a RID for 0x31's start/stop/requestResults sub-functions.
// Stop and RequestResults may be nil if unsupported for that routine.
type Routine struct {
	Start          func(params []byte) ([]byte, error)
	Stop           func() ([]byte, error)
	RequestResults func() ([]byte, error)
}

// Config configures one Server instance.
type Config struct {
	P2Ms     uint16 // positive response timing, encoded in 10ms units
	P2StarMs uint16 // enhanced timing after 0x78 pending response, 10ms units
	S3Ms     uint64 // inactivity timeout reverting a non-default session

	SeedFunc func(level uint8) []byte
	KeyFunc  func(level uint8, seed, key []byte) bool

	MaxInvalidKeys  uint8
	SecurityDelayMs uint64

	DIDs map[uint16]DataItem
	RIDs map[uint16]Routine

	// CalibrationPubKey and CalibrationBlob back the built-in
	// VerifyCalibrationSignature routine. Both must be set for the
	// routine to be registered.
	CalibrationPubKey *btcec.PublicKey
	CalibrationBlob   func() []byte
}

func (c *Config) setDefaults() {
	if c.P2Ms == 0 {
		c.P2Ms = 50
	}
	if c.P2StarMs == 0 {
		c.P2StarMs = 5000
	}
	if c.S3Ms == 0 {
		c.S3Ms = 5000
	}
	if c.MaxInvalidKeys == 0 {
		c.MaxInvalidKeys = 3
	}
	if c.SecurityDelayMs == 0 {
		c.SecurityDelayMs = 10_000
	}
}

// Server is a single UDS session/security/DID/routine state machine.
type Server struct {
	cfg Config

	session        Session
	securityLevel  uint8
	lastActivityUs uint64

	pendingSeed  []byte
	pendingLevel uint8

	invalidKeyCount uint8
	lockoutUntilUs  uint64

	calibrationMode bool
}

// NewServer builds a Server. cfg.DIDs/RIDs are copied so the caller's
// maps remain mutable without aliasing server state.
func NewServer(cfg Config) *Server {
	cfg.setDefaults()
	s := &Server{cfg: cfg, session: SessionDefault}
	s.cfg.DIDs = make(map[uint16]DataItem, len(cfg.DIDs)+1)
	for k, v := range cfg.DIDs {
		s.cfg.DIDs[k] = v
	}
	s.cfg.DIDs[didActiveSession] = DataItem{Read: func() []byte { return []byte{byte(s.session)} }}

	s.cfg.RIDs = make(map[uint16]Routine, len(cfg.RIDs)+1)
	for k, v := range cfg.RIDs {
		s.cfg.RIDs[k] = v
	}
	if cfg.CalibrationPubKey != nil && cfg.CalibrationBlob != nil {
		s.cfg.RIDs[RIDVerifyCalibrationSignature] = Routine{Start: s.verifyCalibrationSignature}
	}
	return s
}

func negative(sid, nrc byte) []byte { return []byte{0x7F, sid, nrc} }

// GetSession returns the currently active diagnostic session.
func (s *Server) GetSession() Session { return s.session }

// GetSecurityLevel returns the currently unlocked security level (0 = locked).
func (s *Server) GetSecurityLevel() uint8 { return s.securityLevel }

// IsCalibrationMode reports whether calibration DID writes are currently accepted.
func (s *Server) IsCalibrationMode() bool { return s.calibrationMode }

// Periodic reverts a non-default session to DEFAULT (locking security)
// after S3Ms of inactivity.
func (s *Server) Periodic(now uint64) {
	if s.session == SessionDefault {
		return
	}
	if now-s.lastActivityUs > s.cfg.S3Ms*1000 {
		s.session = SessionDefault
		s.securityLevel = 0
		s.calibrationMode = false
	}
}

// ProcessRequest dispatches one UDS request and returns the response,
// or nil if the request's reply was suppressed (TesterPresent only).
func (s *Server) ProcessRequest(now uint64, req []byte) []byte {
	s.Periodic(now)
	s.lastActivityUs = now
	if len(req) == 0 {
		return negative(0, NRCIncorrectMessageLength)
	}
	sid := req[0]
	switch sid {
	case SIDDiagnosticSessionControl:
		return s.diagnosticSessionControl(now, req)
	case SIDSecurityAccess:
		return s.securityAccess(now, req)
	case SIDReadDataByIdentifier:
		return s.readDataByIdentifier(req)
	case SIDWriteDataByIdentifier:
		return s.writeDataByIdentifier(req)
	case SIDRoutineControl:
		return s.routineControl(req)
	case SIDTesterPresent:
		return s.testerPresent(req)
	default:
		return negative(sid, NRCServiceNotSupported)
	}
}

func (s *Server) diagnosticSessionControl(now uint64, req []byte) []byte {
	if len(req) != 2 {
		return negative(SIDDiagnosticSessionControl, NRCIncorrectMessageLength)
	}
	sessionType := Session(req[1])
	switch sessionType {
	case SessionDefault, SessionProgramming, SessionExtended, SessionSafetySystem:
	default:
		return negative(SIDDiagnosticSessionControl, NRCSubFunctionNotSupported)
	}
	if sessionType != SessionDefault {
		s.securityLevel = 0
		s.calibrationMode = false
	}
	s.session = sessionType
	p2 := s.cfg.P2Ms / 10
	p2star := s.cfg.P2StarMs / 10
	return []byte{SIDDiagnosticSessionControl + 0x40, byte(sessionType),
		byte(p2 >> 8), byte(p2), byte(p2star >> 8), byte(p2star)}
}

func (s *Server) securityAccess(now uint64, req []byte) []byte {
	if len(req) < 2 {
		return negative(SIDSecurityAccess, NRCIncorrectMessageLength)
	}
	if now < s.lockoutUntilUs {
		return negative(SIDSecurityAccess, NRCRequiredTimeDelayNotExpired)
	}
	sub := req[1]
	if sub%2 == 1 {
		level := (sub + 1) / 2
		if s.cfg.SeedFunc == nil {
			return negative(SIDSecurityAccess, NRCConditionsNotCorrect)
		}
		seed := s.cfg.SeedFunc(level)
		s.pendingSeed = seed
		s.pendingLevel = level
		resp := append([]byte{SIDSecurityAccess + 0x40, sub}, seed...)
		return resp
	}
	level := sub / 2
	if s.pendingSeed == nil || level != s.pendingLevel {
		return negative(SIDSecurityAccess, NRCConditionsNotCorrect)
	}
	key := req[2:]
	if s.cfg.KeyFunc == nil || !s.cfg.KeyFunc(level, s.pendingSeed, key) {
		s.pendingSeed = nil
		s.invalidKeyCount++
		if s.invalidKeyCount >= s.cfg.MaxInvalidKeys {
			s.lockoutUntilUs = now + s.cfg.SecurityDelayMs*1000
			return negative(SIDSecurityAccess, NRCExceededNumberOfAttempts)
		}
		return negative(SIDSecurityAccess, NRCInvalidKey)
	}
	s.securityLevel = level
	s.invalidKeyCount = 0
	s.pendingSeed = nil
	return []byte{SIDSecurityAccess + 0x40, sub}
}

func (s *Server) readDataByIdentifier(req []byte) []byte {
	if len(req) != 3 {
		return negative(SIDReadDataByIdentifier, NRCIncorrectMessageLength)
	}
	did := uint16(req[1])<<8 | uint16(req[2])
	item, ok := s.cfg.DIDs[did]
	if !ok || item.Read == nil {
		return negative(SIDReadDataByIdentifier, NRCRequestOutOfRange)
	}
	resp := append([]byte{SIDReadDataByIdentifier + 0x40, req[1], req[2]}, item.Read()...)
	return resp
}

func (s *Server) writeDataByIdentifier(req []byte) []byte {
	if s.session != SessionExtended && s.session != SessionProgramming {
		return negative(SIDWriteDataByIdentifier, NRCServiceNotSupportedInSession)
	}
	if s.securityLevel < 1 {
		return negative(SIDWriteDataByIdentifier, NRCSecurityAccessDenied)
	}
	if len(req) < 3 {
		return negative(SIDWriteDataByIdentifier, NRCIncorrectMessageLength)
	}
	did := uint16(req[1])<<8 | uint16(req[2])
	item, ok := s.cfg.DIDs[did]
	if !ok || item.Write == nil {
		return negative(SIDWriteDataByIdentifier, NRCRequestOutOfRange)
	}
	if !s.calibrationMode {
		return negative(SIDWriteDataByIdentifier, NRCSecurityAccessDenied)
	}
	if err := item.Write(req[3:]); err != nil {
		return negative(SIDWriteDataByIdentifier, NRCRequestOutOfRange)
	}
	return []byte{SIDWriteDataByIdentifier + 0x40, req[1], req[2]}
}

func (s *Server) routineControl(req []byte) []byte {
	if s.session != SessionExtended && s.session != SessionProgramming {
		return negative(SIDRoutineControl, NRCSubFunctionNotSupportedInSession)
	}
	if s.securityLevel < 1 {
		return negative(SIDRoutineControl, NRCSecurityAccessDenied)
	}
	if len(req) < 4 {
		return negative(SIDRoutineControl, NRCIncorrectMessageLength)
	}
	subfn := req[1]
	rid := uint16(req[2])<<8 | uint16(req[3])
	routine, ok := s.cfg.RIDs[rid]
	if !ok {
		return negative(SIDRoutineControl, NRCRequestOutOfRange)
	}
	var result []byte
	var err error
	switch subfn {
	case 0x01:
		if routine.Start == nil {
			return negative(SIDRoutineControl, NRCRequestOutOfRange)
		}
		result, err = routine.Start(req[4:])
	case 0x02:
		if routine.Stop == nil {
			return negative(SIDRoutineControl, NRCRequestOutOfRange)
		}
		result, err = routine.Stop()
	case 0x03:
		if routine.RequestResults == nil {
			return negative(SIDRoutineControl, NRCRequestOutOfRange)
		}
		result, err = routine.RequestResults()
	default:
		return negative(SIDRoutineControl, NRCSubFunctionNotSupported)
	}
	if err != nil {
		return negative(SIDRoutineControl, NRCRequestOutOfRange)
	}
	resp := append([]byte{SIDRoutineControl + 0x40, subfn, req[2], req[3]}, result...)
	return resp
}

func (s *Server) testerPresent(req []byte) []byte {
	if len(req) != 2 {
		return negative(SIDTesterPresent, NRCIncorrectMessageLength)
	}
	suppress := req[1]&0x80 != 0
	sub := req[1] &^ 0x80
	if sub != 0x00 {
		return negative(SIDTesterPresent, NRCSubFunctionNotSupported)
	}
	if suppress {
		return nil
	}
	return []byte{SIDTesterPresent + 0x40, req[1]}
}

func (s *Server) verifyCalibrationSignature(params []byte) ([]byte, error) {
	sig, err := ecdsa.ParseDERSignature(params)
	if err != nil {
		return nil, err
	}
	blob := s.cfg.CalibrationBlob()
	hash := sha256.Sum256(blob)
	if !sig.Verify(hash[:], s.cfg.CalibrationPubKey) {
		return nil, errors.New("uds: invalid calibration signature")
	}
	s.calibrationMode = true
	return []byte{0x01}, nil
}

// DeriveKey computes HKDF-SHA256(secret, seed, "uds-security-access")
// truncated to n bytes: the default SecurityAccess key algorithm.
func DeriveKey(seed, secret []byte, n int) []byte {
	h := hkdf.New(sha256.New, secret, seed, []byte("uds-security-access"))
	out := make([]byte, n)
	if _, err := io.ReadFull(h, out); err != nil {
		panic(err) // hkdf over sha256 cannot fail for any n within its output limit
	}
	return out
}

// DefaultKeyFunc builds a KeyFunc that checks a 4-byte key derived via
// DeriveKey against a per-level secret.
func DefaultKeyFunc(levelSecrets map[uint8][]byte) func(level uint8, seed, key []byte) bool {
	return func(level uint8, seed, key []byte) bool {
		secret, ok := levelSecrets[level]
		if !ok {
			return false
		}
		expected := DeriveKey(seed, secret, 4)
		if len(expected) != len(key) {
			return false
		}
		for i := range expected {
			if expected[i] != key[i] {
				return false
			}
		}
		return true
	}
}
