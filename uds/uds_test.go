package uds

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

var testSecuritySecret = []byte("level-1-secret")
var testSeed = []byte{0x11, 0x22, 0x33, 0x44}

func testServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(Config{
		SeedFunc: func(level uint8) []byte { return testSeed },
		KeyFunc:  DefaultKeyFunc(map[uint8][]byte{1: testSecuritySecret}),
	})
}

func unlock(t *testing.T, s *Server, now uint64) {
	t.Helper()
	resp := s.ProcessRequest(now, []byte{0x27, 0x01})
	if len(resp) != 6 || resp[0] != 0x67 {
		t.Fatalf("seed request failed: %#v", resp)
	}
	seed := append([]byte(nil), resp[2:6]...)
	key := DeriveKey(seed, testSecuritySecret, 4)
	resp = s.ProcessRequest(now+1, append([]byte{0x27, 0x02}, key...))
	if !bytes.Equal(resp, []byte{0x67, 0x02}) {
		t.Fatalf("send key failed: %#v", resp)
	}
}

func TestHappyPath(t *testing.T) {
	s := testServer(t)

	resp := s.ProcessRequest(0, []byte{0x10, 0x03})
	want := []byte{0x50, 0x03, byte(s.cfg.P2Ms / 10 >> 8), byte(s.cfg.P2Ms / 10), byte(s.cfg.P2StarMs / 10 >> 8), byte(s.cfg.P2StarMs / 10)}
	if !bytes.Equal(resp, want) {
		t.Fatalf("session control response = %#v, want %#v", resp, want)
	}
	if s.GetSession() != SessionExtended {
		t.Fatalf("session = %v, want Extended", s.GetSession())
	}

	resp = s.ProcessRequest(100, []byte{0x22, 0xF1, 0x86})
	want = []byte{0x62, 0xF1, 0x86, byte(SessionExtended)}
	if !bytes.Equal(resp, want) {
		t.Fatalf("read active session DID = %#v, want %#v", resp, want)
	}

	resp = s.ProcessRequest(200, []byte{0x27, 0x01})
	want = append([]byte{0x67, 0x01}, testSeed...)
	if !bytes.Equal(resp, want) {
		t.Fatalf("seed request = %#v, want %#v", resp, want)
	}

	key := DeriveKey(testSeed, testSecuritySecret, 4)
	resp = s.ProcessRequest(300, append([]byte{0x27, 0x02}, key...))
	if !bytes.Equal(resp, []byte{0x67, 0x02}) {
		t.Fatalf("send key = %#v, want 67 02", resp)
	}
	if s.GetSecurityLevel() != 1 {
		t.Fatalf("security level = %d, want 1", s.GetSecurityLevel())
	}
}

func TestS3TimeoutRevertsSessionAndSecurity(t *testing.T) {
	s := testServer(t)
	s.ProcessRequest(0, []byte{0x10, 0x03})
	unlock(t, s, 100)
	if s.GetSession() != SessionExtended || s.GetSecurityLevel() != 1 {
		t.Fatal("setup failed")
	}
	s.Periodic(s.cfg.S3Ms*1000 + 2000)
	if s.GetSession() != SessionDefault {
		t.Errorf("session = %v, want Default after S3 timeout", s.GetSession())
	}
	if s.GetSecurityLevel() != 0 {
		t.Errorf("security level = %d, want 0 after S3 timeout", s.GetSecurityLevel())
	}
}

func TestSecurityAccessLockoutAfterRepeatedFailures(t *testing.T) {
	s := testServer(t)
	s.ProcessRequest(0, []byte{0x10, 0x03})
	var now uint64 = 100
	for i := 0; i < int(s.cfg.MaxInvalidKeys); i++ {
		s.ProcessRequest(now, []byte{0x27, 0x01})
		now += 10
		resp := s.ProcessRequest(now, []byte{0x27, 0x02, 0x00, 0x00, 0x00, 0x00})
		now += 10
		if i < int(s.cfg.MaxInvalidKeys)-1 {
			if resp[2] != NRCInvalidKey {
				t.Fatalf("attempt %d: NRC = %#x, want invalid key", i, resp[2])
			}
		} else {
			if resp[2] != NRCExceededNumberOfAttempts {
				t.Fatalf("final attempt: NRC = %#x, want exceeded attempts", resp[2])
			}
		}
	}
	resp := s.ProcessRequest(now, []byte{0x27, 0x01})
	if resp[2] != NRCRequiredTimeDelayNotExpired {
		t.Fatalf("locked-out seed request NRC = %#x, want required-time-delay", resp[2])
	}
}

func TestWriteDeniedOutsideCalibrationMode(t *testing.T) {
	written := false
	s := NewServer(Config{
		SeedFunc: func(level uint8) []byte { return testSeed },
		KeyFunc:  DefaultKeyFunc(map[uint8][]byte{1: testSecuritySecret}),
		DIDs: map[uint16]DataItem{
			0x1000: {Write: func([]byte) error { written = true; return nil }},
		},
	})
	s.ProcessRequest(0, []byte{0x10, 0x03})
	unlock(t, s, 100)
	resp := s.ProcessRequest(400, []byte{0x2E, 0x10, 0x00, 0xAA})
	if resp[0] != 0x7F || resp[2] != NRCSecurityAccessDenied {
		t.Fatalf("write outside calibration mode = %#v, want 0x33 NRC", resp)
	}
	if written {
		t.Error("write must not have reached the DID outside calibration mode")
	}
}

func TestCalibrationSignatureGatesWrite(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	blob := []byte("calibration blob v1")
	var written []byte
	s := NewServer(Config{
		SeedFunc: func(level uint8) []byte { return testSeed },
		KeyFunc:  DefaultKeyFunc(map[uint8][]byte{1: testSecuritySecret}),
		DIDs: map[uint16]DataItem{
			0x1000: {Write: func(b []byte) error { written = b; return nil }},
		},
		CalibrationPubKey: priv.PubKey(),
		CalibrationBlob:   func() []byte { return blob },
	})
	s.ProcessRequest(0, []byte{0x10, 0x03})
	unlock(t, s, 100)

	hash := sha256.Sum256(blob)
	sig := ecdsa.Sign(priv, hash[:])
	req := append([]byte{0x31, 0x01, 0xFF, 0x00}, sig.Serialize()...)
	resp := s.ProcessRequest(400, req)
	if resp[0] != 0x71 {
		t.Fatalf("routine control response = %#v, want positive 0x71", resp)
	}
	if !s.IsCalibrationMode() {
		t.Fatal("calibration mode should be entered after a valid signature")
	}

	resp = s.ProcessRequest(500, []byte{0x2E, 0x10, 0x00, 0xAA})
	if resp[0] != 0x6E {
		t.Fatalf("write after calibration unlock = %#v, want positive 0x6E", resp)
	}
	if !bytes.Equal(written, []byte{0xAA}) {
		t.Errorf("write payload = %#v, want [0xAA]", written)
	}
}

func TestTesterPresentSuppressesReplyButRefreshesActivity(t *testing.T) {
	s := testServer(t)
	s.ProcessRequest(0, []byte{0x10, 0x03})
	resp := s.ProcessRequest(100, []byte{0x3E, 0x80})
	if resp != nil {
		t.Fatalf("suppressed tester present returned %#v, want nil", resp)
	}
	s.Periodic(s.cfg.S3Ms*1000 + 50)
	if s.GetSession() != SessionExtended {
		t.Error("tester present with suppressed reply must still refresh the S3 timer")
	}
}
