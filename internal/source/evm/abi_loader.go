package evm

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// LoadABIs loads ABI JSON files from the provided directories.
func LoadABIs(dirs []string) (map[string]*abi.ABI, error) {
	abis := map[string]*abi.ABI{}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".json") {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read abi %s: %w", path, err)
			}
			a, err := abi.JSON(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("parse abi %s: %w", path, err)
			}
			abis[path] = &a
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return abis, nil
}

// FindTokenABI returns the first loaded ABI (by path) exposing string-returning
// name() and symbol() methods.
func FindTokenABI(abis map[string]*abi.ABI) (*abi.ABI, bool) {
	paths := make([]string, 0, len(abis))
	for p := range abis {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		a := abis[p]
		if returnsString(a, "name") && returnsString(a, "symbol") {
			return a, true
		}
	}
	return nil, false
}

func returnsString(a *abi.ABI, method string) bool {
	m, ok := a.Methods[method]
	if !ok || len(m.Inputs) != 0 || len(m.Outputs) != 1 {
		return false
	}
	return m.Outputs[0].Type.T == abi.StringTy
}
