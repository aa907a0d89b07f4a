package txsign

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"avaneesh/blesign-go/pkg/frame"
	"avaneesh/blesign-go/pkg/internal/logger"
	"avaneesh/blesign-go/pkg/session"
)

// Device is a signing device bound to one connected address
type Device interface {
	PublicKey(ctx context.Context) ([]byte, error)
	SignHash(ctx context.Context, hash []byte) (session.SignResult, error)
	SignWithDeviceData(ctx context.Context, inputs []DeviceInput) (session.SignResult, error)
}

// Service signs transactions input by input against a Device
type Service struct {
	device Device
	logger logger.Logger
}

// NewService creates a signing service
func NewService(device Device, log logger.Logger) *Service {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Service{device: device, logger: log}
}

// NewTransaction builds a transaction and signs every input by hash
func (s *Service) NewTransaction(ctx context.Context, req TransferRequest) (*Transaction, error) {
	tx, err := s.build(ctx, req)
	if err != nil {
		return nil, err
	}
	tx.ID = tx.Hash()
	if err := s.Sign(ctx, tx, req.Utxos); err != nil {
		return nil, err
	}
	return tx, nil
}

// NewDeviceDataTransaction builds a transaction whose contract template is
// completed by the device, then signs it
func (s *Service) NewDeviceDataTransaction(ctx context.Context, req TransferRequest) (*Transaction, error) {
	tx, err := s.build(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.SignWithDeviceData(ctx, tx, req.Utxos); err != nil {
		return nil, err
	}
	tx.ID = tx.Hash()
	return tx, nil
}

func (s *Service) build(ctx context.Context, req TransferRequest) (*Transaction, error) {
	pubKey, err := s.device.PublicKey(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read device public key")
	}
	tx, err := NewTransaction(pubKey, req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build transaction")
	}
	return tx, nil
}

// Sign signs every input of tx through the plain hash path
func (s *Service) Sign(ctx context.Context, tx *Transaction, utxos []Utxo) error {
	return s.sign(ctx, tx, utxos, false)
}

// SignWithDeviceData signs tx. When the first output's contract still holds
// placeholders, input 0 goes through the device-data path and the returned
// values are substituted into the contract before the remaining inputs are
// signed by hash.
func (s *Service) SignWithDeviceData(ctx context.Context, tx *Transaction, utxos []Utxo) error {
	return s.sign(ctx, tx, utxos, true)
}

func (s *Service) sign(ctx context.Context, tx *Transaction, utxos []Utxo, deviceData bool) error {
	if len(tx.Vin) == 0 {
		return nil
	}

	prev := make(map[string]Utxo, len(utxos))
	for _, u := range utxos {
		prev[u.Key()] = u
	}
	pkhFor := func(i int) ([]byte, error) {
		in := tx.Vin[i]
		u, ok := prev[outpointKey(in.TxID, in.Vout)]
		if !ok {
			return nil, errors.Wrapf(ErrUtxoNotFound, "input %d", i)
		}
		return u.PubKeyHash, nil
	}

	cp := tx.TrimmedCopy()
	start := 0

	if deviceData && tx.IsContract() && strings.Contains(tx.Vout[0].Contract, Placeholder) {
		start = 1
		pkh, err := pkhFor(0)
		if err != nil {
			return err
		}

		in := &cp.Vin[0]
		old := in.PubKey
		in.PubKey = pkh
		inputs, err := BuildDeviceInputs(cp)
		in.PubKey = old
		if err != nil {
			return errors.Wrap(err, "failed to build device inputs")
		}

		res, err := s.device.SignWithDeviceData(ctx, inputs)
		if err != nil {
			return errors.Wrap(err, "failed to sign input 0 with device data")
		}
		tx.Vin[0].Signature = append([]byte(nil), res.Signature[:]...)

		if len(res.Values) > 0 {
			contract := SubstituteValues(tx.Vout[0].Contract, res.Values)
			tx.Vout[0].Contract = contract
			cp.Vout[0].Contract = contract
		}
		s.logger.Debug("Signed input 0 with %d device values", len(res.Values))
	}

	for i := start; i < len(cp.Vin); i++ {
		pkh, err := pkhFor(i)
		if err != nil {
			return err
		}
		digest := cp.inputDigest(i, pkh)

		res, err := s.device.SignHash(ctx, digest)
		if err != nil {
			return errors.Wrapf(err, "failed to sign input %d", i)
		}
		tx.Vin[i].Signature = append([]byte(nil), res.Signature[:]...)
		s.logger.Debug("Signed input %d", i)
	}
	return nil
}

// VerifyInput checks the signature of input i against the device public key
func VerifyInput(tx *Transaction, i int, utxo Utxo, pubKey []byte) bool {
	if i < 0 || i >= len(tx.Vin) || len(tx.Vin[i].Signature) != frame.SignatureSize {
		return false
	}
	cp := tx.TrimmedCopy()
	digest := cp.inputDigest(i, utxo.PubKeyHash)
	return crypto.VerifySignature(pubKey, digest, tx.Vin[i].Signature)
}
