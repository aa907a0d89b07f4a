package main

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"avaneesh/blesign-go/pkg/blewallet"
	"avaneesh/blesign-go/pkg/txsign"
)

func newPubkeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pubkey",
		Short: "Read the public key of a device",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSigner(cmd, func(ctx context.Context, s *blewallet.DeviceSigner) error {
				key, err := s.PublicKey(ctx)
				if err != nil {
					return err
				}
				pkh, err := txsign.PublicKeyHash(key)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "public key: %s\naddress:    %s\n", hexutil.Encode(key), hexutil.Encode(pkh))
				return nil
			})
		},
	}
	addDeviceFlag(cmd)
	return cmd
}

func newSignHashCmd() *cobra.Command {
	var hash string

	cmd := &cobra.Command{
		Use:   "sign-hash",
		Short: "Sign a 32-byte hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			digest, err := hexutil.Decode("0x" + trimHexPrefix(hash))
			if err != nil {
				return fmt.Errorf("--hash: %w", err)
			}
			return withSigner(cmd, func(ctx context.Context, s *blewallet.DeviceSigner) error {
				res, err := s.SignHash(ctx, digest)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "signature: %s\n", hexutil.Encode(res.Signature[:]))

				if key, err := s.PublicKey(ctx); err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "verified:  %v\n", crypto.VerifySignature(key, digest, res.Signature[:]))
				}
				return nil
			})
		},
	}
	addDeviceFlag(cmd)
	cmd.Flags().StringVar(&hash, "hash", "", "hex encoded 32-byte hash")
	cmd.MarkFlagRequired("hash")
	return cmd
}

func newSignContractCmd() *cobra.Command {
	var (
		template string
		to       string
		utxos    []string
		gasLimit int64
		gasPrice int64
	)

	cmd := &cobra.Command{
		Use:   "sign-contract",
		Short: "Sign a contract template completed by the device",
		Long: `Sign a contract template whose {} placeholders the device fills in.

Without --utxo only the template is signed. With one or more --utxo
txid:vout:amount the template becomes the contract of a transaction that
spends them, and every input is signed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSigner(cmd, func(ctx context.Context, s *blewallet.DeviceSigner) error {
				out := cmd.OutOrStdout()
				if len(utxos) == 0 {
					res, text, err := s.SignTemplate(ctx, template)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "contract:  %s\nsignature: %s\n", text, hexutil.Encode(res.Signature[:]))
					return nil
				}

				key, err := s.PublicKey(ctx)
				if err != nil {
					return err
				}
				pkh, err := txsign.PublicKeyHash(key)
				if err != nil {
					return err
				}
				spend, err := parseUtxos(utxos, pkh)
				if err != nil {
					return err
				}

				tx, err := s.Wallet().NewDeviceDataTransaction(ctx, txsign.TransferRequest{
					Utxos:    spend,
					To:       to,
					Amount:   new(big.Int),
					GasLimit: big.NewInt(gasLimit),
					GasPrice: big.NewInt(gasPrice),
					Contract: template,
				})
				if err != nil {
					return err
				}

				fmt.Fprintf(out, "transaction: %s\ncontract:    %s\n", hexutil.Encode(tx.ID), tx.Vout[0].Contract)
				for i := range tx.Vin {
					fmt.Fprintf(out, "input %d:     %s verified=%v\n", i,
						hexutil.Encode(tx.Vin[i].Signature), txsign.VerifyInput(tx, i, spend[i], key))
				}
				return nil
			})
		},
	}
	addDeviceFlag(cmd)
	cmd.Flags().StringVar(&template, "template", "", "contract template, e.g. call({})")
	cmd.Flags().StringVar(&to, "to", "", "contract address (random when empty)")
	cmd.Flags().StringSliceVar(&utxos, "utxo", nil, "utxo to spend as txid:vout:amount")
	cmd.Flags().Int64Var(&gasLimit, "gas-limit", 0, "gas limit")
	cmd.Flags().Int64Var(&gasPrice, "gas-price", 0, "gas price")
	cmd.MarkFlagRequired("template")
	return cmd
}

// parseUtxos parses txid:vout:amount entries owned by pkh
func parseUtxos(entries []string, pkh []byte) ([]txsign.Utxo, error) {
	var out []txsign.Utxo
	for _, e := range entries {
		parts := strings.Split(e, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("utxo %q: want txid:vout:amount", e)
		}
		txid, err := hexutil.Decode("0x" + trimHexPrefix(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("utxo %q txid: %w", e, err)
		}
		vout, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("utxo %q vout: %w", e, err)
		}
		amount, ok := new(big.Int).SetString(parts[2], 10)
		if !ok {
			return nil, fmt.Errorf("utxo %q: bad amount", e)
		}
		out = append(out, txsign.Utxo{TxID: txid, VoutIndex: vout, Amount: amount, PubKeyHash: pkh})
	}
	return out, nil
}
