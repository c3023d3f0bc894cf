package scoring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vaultSource = `pragma solidity ^0.8.20;

contract Vault {
    mapping(address => uint256) balances;

    function deposit() external payable {
        balances[msg.sender] += msg.value;
    }

    function withdraw(uint256 amount) public {
        (bool ok, ) = msg.sender.call{value: amount}("");
        require(ok);
        balances[msg.sender] -= amount;
    }

    function _check(address who) internal view returns (bool) {
        return balances[who] > 0;
    }

    receive() external payable {}
}
`

func TestClassify(t *testing.T) {
	tests := []struct {
		path       string
		test, lib  bool
	}{
		{"contracts/Vault.sol", false, false},
		{"test/Vault.t.sol", true, false},
		{"contracts/mocks/ERC20.sol", true, false},
		{"contracts/MockOracle.sol", true, false},
		{"contracts/Attestation.sol", false, false},
		{"lib/forge-std/src/Test.sol", true, true},
		{"node_modules/@openzeppelin/contracts/token/ERC20/ERC20.sol", false, true},
		{"lib/solmate/src/tokens/ERC20.sol", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			fc := Classify(tt.path)
			assert.Equal(t, tt.test, fc.IsTest)
			assert.Equal(t, tt.lib, fc.IsThirdParty)
		})
	}
}

func TestParseSource(t *testing.T) {
	fc := ParseSource(FileContext{Path: "Vault.sol"}, []byte(vaultSource))
	assert.Equal(t, []string{"deposit", "receive", "withdraw"}, fc.ExternalFunctions)
	assert.True(t, fc.IsExternal("withdraw"))
	assert.False(t, fc.IsExternal("_check"))
}

func TestCodeContextLookup(t *testing.T) {
	cc := NewCodeContext(FileContext{Path: "contracts/Vault.sol"}, FileContext{Path: "src/Bank.sol"})
	assert.Equal(t, 2, cc.Len())

	_, ok := cc.Lookup("./contracts/Vault.sol")
	assert.True(t, ok)
	_, ok = cc.Lookup("/home/ci/repo/contracts/Vault.sol")
	assert.True(t, ok)
	_, ok = cc.Lookup("Bank.sol")
	assert.True(t, ok)
	_, ok = cc.Lookup("contracts/Missing.sol")
	assert.False(t, ok)

	var nilCtx *CodeContext
	_, ok = nilCtx.Lookup("x.sol")
	assert.False(t, ok)
	assert.Equal(t, 0, nilCtx.Len())
}

func TestInferCodeContext(t *testing.T) {
	root := t.TempDir()
	write := func(rel, src string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	}
	write("contracts/Vault.sol", vaultSource)
	write("test/Vault.t.sol", "contract VaultTest { function testWithdraw() public {} }")
	write("lib/oz/ERC20.sol", "contract ERC20 {}")
	write("README.md", "# not solidity")

	cc, err := InferCodeContext(root)
	require.NoError(t, err)
	assert.Equal(t, 3, cc.Len())

	vault, ok := cc.Lookup("contracts/Vault.sol")
	require.True(t, ok)
	assert.True(t, vault.IsExternal("withdraw"))

	tst, ok := cc.Lookup("test/Vault.t.sol")
	require.True(t, ok)
	assert.True(t, tst.IsTest)

	lib, ok := cc.Lookup("lib/oz/ERC20.sol")
	require.True(t, ok)
	assert.True(t, lib.IsThirdParty)

	single, err := InferCodeContext(filepath.Join(root, "contracts/Vault.sol"))
	require.NoError(t, err)
	_, ok = single.Lookup("Vault.sol")
	assert.True(t, ok)

	_, err = InferCodeContext(filepath.Join(root, "nope"))
	assert.Error(t, err)
}
