package token

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// erc20ABI is the minimal surface the reserve ledger needs.
const erc20ABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// ERC20 adapts an on-chain ERC-20 contract to the Token interface. All
// state-changing calls are signed with the pool operator key, so Transfer
// and TransferFrom only accept the operator as the sending party.
type ERC20 struct {
	client   *ethclient.Client
	contract common.Address
	abi      abi.ABI
	key      *ecdsa.PrivateKey
	operator common.Address
	chainID  *big.Int
}

// NewERC20 dials rpcURL and returns an adapter for the token contract,
// transacting as the given hex-encoded operator key.
func NewERC20(ctx context.Context, rpcURL string, contract common.Address, operatorKeyHex string, chainID int64) (*ERC20, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("token: parse erc20 abi: %w", err)
	}

	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(operatorKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("token: invalid operator key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("token: dial %s: %w", rpcURL, err)
	}

	return &ERC20{
		client:   client,
		contract: contract,
		abi:      parsed,
		key:      key,
		operator: ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:  big.NewInt(chainID),
	}, nil
}

// Operator returns the address the adapter transacts as.
func (t *ERC20) Operator() common.Address { return t.operator }

// Close releases the underlying RPC connection.
func (t *ERC20) Close() { t.client.Close() }

// BalanceOf reads balanceOf(account) from the contract.
func (t *ERC20) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	data, err := t.abi.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("token: pack balanceOf: %w", err)
	}

	out, err := t.client.CallContract(ctx, ethereum.CallMsg{To: &t.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("token: call balanceOf: %w", err)
	}

	results, err := t.abi.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("token: unpack balanceOf: %w", err)
	}
	return results[0].(*big.Int), nil
}

// Transfer sends transfer(to, amount) signed by the operator key. from must
// be the operator.
func (t *ERC20) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if from != t.operator {
		return fmt.Errorf("token: transfer from %s: only the operator %s can send", from, t.operator)
	}
	data, err := t.abi.Pack("transfer", to, amount)
	if err != nil {
		return fmt.Errorf("token: pack transfer: %w", err)
	}
	return t.send(ctx, data)
}

// TransferFrom sends transferFrom(from, to, amount). spender must be the
// operator; the from account must have approved it beforehand.
func (t *ERC20) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error {
	if spender != t.operator {
		return fmt.Errorf("token: transferFrom as %s: only the operator %s can spend", spender, t.operator)
	}
	data, err := t.abi.Pack("transferFrom", from, to, amount)
	if err != nil {
		return fmt.Errorf("token: pack transferFrom: %w", err)
	}
	return t.send(ctx, data)
}

// Approve sends approve(spender, amount) from the operator account.
func (t *ERC20) Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error {
	if owner != t.operator {
		return fmt.Errorf("token: approve from %s: only the operator %s can approve", owner, t.operator)
	}
	data, err := t.abi.Pack("approve", spender, amount)
	if err != nil {
		return fmt.Errorf("token: pack approve: %w", err)
	}
	return t.send(ctx, data)
}

// send signs a contract call with the operator key, submits it, and waits
// for it to be mined so settlement observes the final balance.
func (t *ERC20) send(ctx context.Context, data []byte) error {
	nonce, err := t.client.PendingNonceAt(ctx, t.operator)
	if err != nil {
		return fmt.Errorf("token: pending nonce: %w", err)
	}
	gasPrice, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("token: suggest gas price: %w", err)
	}

	gasLimit, err := t.client.EstimateGas(ctx, ethereum.CallMsg{
		From: t.operator,
		To:   &t.contract,
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("token: estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &t.contract,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(t.chainID), t.key)
	if err != nil {
		return fmt.Errorf("token: sign tx: %w", err)
	}
	if err := t.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("token: send tx: %w", err)
	}

	receipt, err := waitMined(ctx, t.client, signed.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("token: tx %s reverted", signed.Hash())
	}
	return nil
}

func waitMined(ctx context.Context, client *ethclient.Client, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("token: waiting for tx %s: %w", hash, ctx.Err())
		case <-ticker.C:
		}
	}
}
