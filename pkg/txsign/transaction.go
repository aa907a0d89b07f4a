package txsign

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
)

// Transaction types
const (
	TxTypeDefault  = 0
	TxTypeNormal   = 1
	TxTypeContract = 2
)

// TxInput spends one previous output
type TxInput struct {
	TxID      []byte
	Vout      int
	PubKey    []byte
	Signature []byte
}

// TxOutput pays value to a public key hash, optionally carrying a contract
type TxOutput struct {
	Value      *big.Int
	PubKeyHash []byte
	Contract   string
}

// Transaction is the signable transaction
type Transaction struct {
	ID       []byte
	Vin      []TxInput
	Vout     []TxOutput
	Tip      *big.Int
	GasLimit *big.Int
	GasPrice *big.Int
	Type     int
}

// Utxo is an unspent output owned by the device key
type Utxo struct {
	TxID       []byte
	VoutIndex  int
	Amount     *big.Int
	PubKeyHash []byte
}

// Key identifies the output an input or utxo refers to
func (u Utxo) Key() string {
	return outpointKey(u.TxID, u.VoutIndex)
}

func outpointKey(txid []byte, vout int) string {
	return fmt.Sprintf("%s-%d", hex.EncodeToString(txid), vout)
}

// IsContract reports whether tx carries a contract in its first output
func (tx *Transaction) IsContract() bool {
	return tx.Type == TxTypeContract && len(tx.Vout) > 0
}

// serializer accumulates the canonical byte form of a transaction
type serializer struct {
	buf []byte
}

func (s *serializer) bytes(b []byte) {
	s.buf = append(s.buf, b...)
}

func (s *serializer) int(v int) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) big(v *big.Int) {
	if v != nil {
		s.buf = append(s.buf, v.Bytes()...)
	}
}

func (s *serializer) input(in *TxInput) {
	s.bytes(in.TxID)
	s.int(in.Vout)
	s.bytes(in.PubKey)
}

// outputHead writes the fields that precede an output's contract
func (s *serializer) outputHead(out *TxOutput) {
	s.big(out.Value)
	s.bytes(out.PubKeyHash)
}

// trailer writes tip, gas and type
func (s *serializer) trailer(tx *Transaction) {
	s.big(tx.Tip)
	s.big(tx.GasLimit)
	s.big(tx.GasPrice)
	if tx.Type > TxTypeDefault {
		s.int(tx.Type)
	}
}

// Serialize returns the canonical bytes that are hashed for signing.
// Signatures and the id are not part of it.
func (tx *Transaction) Serialize() []byte {
	var s serializer
	for i := range tx.Vin {
		s.input(&tx.Vin[i])
	}
	for i := range tx.Vout {
		s.outputHead(&tx.Vout[i])
		s.bytes([]byte(tx.Vout[i].Contract))
	}
	s.trailer(tx)
	return s.buf
}

// Hash returns the sha256 digest of Serialize
func (tx *Transaction) Hash() []byte {
	sum := sha256.Sum256(tx.Serialize())
	return sum[:]
}

// TrimmedCopy returns a deep copy without signatures
func (tx *Transaction) TrimmedCopy() *Transaction {
	cp := &Transaction{
		Vin:      make([]TxInput, len(tx.Vin)),
		Vout:     make([]TxOutput, len(tx.Vout)),
		Tip:      copyBig(tx.Tip),
		GasLimit: copyBig(tx.GasLimit),
		GasPrice: copyBig(tx.GasPrice),
		Type:     tx.Type,
	}
	for i, in := range tx.Vin {
		cp.Vin[i] = TxInput{
			TxID:   append([]byte(nil), in.TxID...),
			Vout:   in.Vout,
			PubKey: append([]byte(nil), in.PubKey...),
		}
	}
	for i, out := range tx.Vout {
		cp.Vout[i] = TxOutput{
			Value:      copyBig(out.Value),
			PubKeyHash: append([]byte(nil), out.PubKeyHash...),
			Contract:   out.Contract,
		}
	}
	return cp
}

// inputDigest hashes the copy with input i's pubkey temporarily replaced by pkh
func (tx *Transaction) inputDigest(i int, pkh []byte) []byte {
	in := &tx.Vin[i]
	old := in.PubKey
	in.PubKey = pkh
	digest := tx.Hash()
	in.PubKey = old
	return digest
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// String returns a short description of the transaction
func (tx *Transaction) String() string {
	return fmt.Sprintf("Transaction{ID=%x, Vin=%d, Vout=%d, Type=%d}", tx.ID, len(tx.Vin), len(tx.Vout), tx.Type)
}
