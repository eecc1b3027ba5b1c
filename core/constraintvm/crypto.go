package constraintvm

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/essential-contributions/essential-core/core/types"
	"github.com/essential-contributions/essential-core/core/wordstack"
)

// ErrEd25519 reports a public key or signature of the wrong byte size.
// Correctly sized bytes that do not decode as a key or signature are not
// reported with it: ed25519.Verify returns false for them and the op
// pushes 0.
var ErrEd25519 = errors.New("constraintvm: invalid ed25519 signature or key")

// sha256Op pops a length then that many words, hashes the big-endian
// byte concatenation of the popped words, and pushes the digest as 4
// words.
func sha256Op(s *wordstack.Stack) error {
	n, err := s.Pop1()
	if err != nil {
		return err
	}
	words, err := s.PopN(int(n))
	if err != nil {
		return err
	}
	h := sha256.Sum256(wordsToBytes(words))
	push4(s, h)
	return nil
}

// verifyEd25519Op pops a pubkey (4 words = 32 bytes), a signature (8
// words = 64 bytes), then a data length and that many data words;
// pushes 1 if the signature verifies, 0 if it doesn't. It returns an
// error on a short stack or a wrongly sized key or signature; the
// popped words always give 32 and 64 bytes, so the size checks do not
// fail here.
func verifyEd25519Op(s *wordstack.Stack) error {
	pubWords, err := s.PopN(4)
	if err != nil {
		return err
	}
	sigWords, err := s.PopN(8)
	if err != nil {
		return err
	}
	n, err := s.Pop1()
	if err != nil {
		return err
	}
	dataWords, err := s.PopN(int(n))
	if err != nil {
		return err
	}

	pub := ed25519.PublicKey(wordsToBytes(pubWords))
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: public key size %d", ErrEd25519, len(pub))
	}
	sig := wordsToBytes(sigWords)
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: signature size %d", ErrEd25519, len(sig))
	}
	ok := ed25519.Verify(pub, wordsToBytes(dataWords), sig)
	s.Push(boolWord(ok))
	return nil
}

func wordsToBytes(words []types.Word) []byte {
	out := make([]byte, 0, len(words)*8)
	for _, w := range words {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(w))
		out = append(out, b[:]...)
	}
	return out
}

func push4(s *wordstack.Stack, digest [32]byte) {
	for i := 0; i < 4; i++ {
		u := binary.BigEndian.Uint64(digest[i*8 : i*8+8])
		s.Push(types.Word(u))
	}
}

func boolWord(b bool) types.Word {
	if b {
		return 1
	}
	return 0
}
