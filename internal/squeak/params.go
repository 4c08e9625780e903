package squeak

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

// Params selects the Bitcoin network a node anchors squeaks to. It is passed
// explicitly to every component that needs it.
type Params struct {
	Name        string
	Chain       *chaincfg.Params
	DefaultPort uint16
}

var (
	MainNetParams = Params{Name: "mainnet", Chain: &chaincfg.MainNetParams, DefaultPort: 8555}
	TestNetParams = Params{Name: "testnet", Chain: &chaincfg.TestNet3Params, DefaultPort: 18555}
	RegTestParams = Params{Name: "regtest", Chain: &chaincfg.RegressionNetParams, DefaultPort: 18666}
	SimNetParams  = Params{Name: "simnet", Chain: &chaincfg.SimNetParams, DefaultPort: 18777}
	SigNetParams  = Params{Name: "signet", Chain: &chaincfg.SigNetParams, DefaultPort: 38555}
)

func ParamsForNetwork(name string) (Params, error) {
	switch name {
	case "mainnet":
		return MainNetParams, nil
	case "testnet":
		return TestNetParams, nil
	case "regtest":
		return RegTestParams, nil
	case "simnet":
		return SimNetParams, nil
	case "signet":
		return SigNetParams, nil
	}
	return Params{}, fmt.Errorf("unknown network %q", name)
}
