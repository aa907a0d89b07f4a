package txsign

import (
	"crypto/rand"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrNoUtxos           = errors.New("no utxos to spend")
	ErrUtxoNotFound      = errors.New("utxo not found for input")
)

// TransferRequest describes a transaction to build from device-owned utxos
type TransferRequest struct {
	Utxos    []Utxo
	To       string // Hex address; may be empty for a contract call
	Amount   *big.Int
	Tip      *big.Int
	GasLimit *big.Int
	GasPrice *big.Int
	Contract string // Contract source or template with {} placeholders
}

// PublicKeyHash derives the 20-byte hash a device public key is paid to
func PublicKeyHash(pubKey []byte) ([]byte, error) {
	pub, err := crypto.UnmarshalPubkey(pubKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse device public key")
	}
	return crypto.PubkeyToAddress(*pub).Bytes(), nil
}

// AddressHash converts a hex address to its public key hash
func AddressHash(address string) ([]byte, error) {
	if !common.IsHexAddress(address) {
		return nil, errors.Wrapf(ErrInvalidAddress, "%q", address)
	}
	return common.HexToAddress(address).Bytes(), nil
}

// newContractAddress returns a fresh random contract address
func newContractAddress() (string, error) {
	var b [common.AddressLength]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", errors.Wrap(err, "failed to generate contract address")
	}
	return common.BytesToAddress(b[:]).Hex(), nil
}

// CalculateChange returns total - amount - tip - gasLimit*gasPrice
func CalculateChange(total, amount, tip, gasLimit, gasPrice *big.Int) *big.Int {
	change := new(big.Int).Set(total)
	if amount != nil {
		change.Sub(change, amount)
	}
	if tip != nil {
		change.Sub(change, tip)
	}
	if gasLimit != nil && gasPrice != nil {
		change.Sub(change, new(big.Int).Mul(gasLimit, gasPrice))
	}
	return change
}

// NewTransaction builds an unsigned transaction spending req.Utxos with the
// device public key. Outputs are the contract output (if any), the receiver
// and the change back to the device.
func NewTransaction(pubKey []byte, req TransferRequest) (*Transaction, error) {
	if len(req.Utxos) == 0 {
		return nil, ErrNoUtxos
	}

	tx := &Transaction{
		Tip:      copyBig(req.Tip),
		GasLimit: copyBig(req.GasLimit),
		GasPrice: copyBig(req.GasPrice),
		Type:     TxTypeNormal,
	}

	total := new(big.Int)
	for _, u := range req.Utxos {
		tx.Vin = append(tx.Vin, TxInput{
			TxID:   append([]byte(nil), u.TxID...),
			Vout:   u.VoutIndex,
			PubKey: append([]byte(nil), pubKey...),
		})
		if u.Amount != nil {
			total.Add(total, u.Amount)
		}
	}

	amount := req.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	change := CalculateChange(total, amount, req.Tip, req.GasLimit, req.GasPrice)
	if change.Sign() < 0 {
		return nil, errors.Wrapf(ErrInsufficientFunds, "short by %s", new(big.Int).Neg(change))
	}

	to := req.To
	if req.Contract != "" {
		tx.Type = TxTypeContract
		if to == "" {
			addr, err := newContractAddress()
			if err != nil {
				return nil, err
			}
			to = addr
		}
	}

	toHash, err := AddressHash(to)
	if err != nil {
		return nil, err
	}

	if req.Contract != "" {
		tx.Vout = append(tx.Vout, TxOutput{
			Value:      new(big.Int),
			PubKeyHash: toHash,
			Contract:   req.Contract,
		})
	}
	tx.Vout = append(tx.Vout, TxOutput{
		Value:      new(big.Int).Set(amount),
		PubKeyHash: toHash,
	})

	if change.Sign() > 0 {
		changeHash, err := PublicKeyHash(pubKey)
		if err != nil {
			return nil, err
		}
		tx.Vout = append(tx.Vout, TxOutput{Value: change, PubKeyHash: changeHash})
	}
	return tx, nil
}
