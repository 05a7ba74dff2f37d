package adapter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
)

func addressFromKeystoreJSON(data []byte) (common.Address, error) {
	var contents struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(data, &contents); err != nil {
		return common.Address{}, fmt.Errorf("parsing keystore json: %w", err)
	}
	if contents.Address == "" {
		return common.Address{}, fmt.Errorf("address missing in keystore json")
	}
	return common.HexToAddress(contents.Address), nil
}

func keystoreDirOf(keystoreFile string) string {
	return filepath.Dir(keystoreFile)
}

func readKeystoreJSON(keystoreFile string) ([]byte, error) {
	data, err := os.ReadFile(keystoreFile)
	if err != nil {
		return nil, fmt.Errorf("reading keystore file: %w", err)
	}
	return data, nil
}

// findImportedAccount locates the account matching keystoreFile's address
// among ks's already-imported accounts, for the common case of re-running
// the driver against a keystore directory it has already imported into.
func findImportedAccount(ks *keystore.KeyStore, keystoreFile string) (accounts.Account, error) {
	data, err := readKeystoreJSON(keystoreFile)
	if err != nil {
		return accounts.Account{}, err
	}
	addr, err := addressFromKeystoreJSON(data)
	if err != nil {
		return accounts.Account{}, err
	}
	for _, acct := range ks.Accounts() {
		if acct.Address == addr {
			return acct, nil
		}
	}
	return accounts.Account{}, fmt.Errorf("no imported account matches address %s", addr)
}
