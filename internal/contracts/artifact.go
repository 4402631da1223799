package contracts

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// MortgageArtifact is the build artifact of the Mortgage contract. It carries the
// ABI only; deployments come from a truffle build output or from configuration.
//
//go:embed Mortgage.json
var MortgageArtifact []byte

// Deployment is one entry of the artifact's "networks" mapping.
type Deployment struct {
	Address         string `json:"address"`
	TransactionHash string `json:"transactionHash,omitempty"`
}

// Artifact is a parsed contract build artifact: the ABI plus the
// network id -> deployment mapping.
type Artifact struct {
	Name     string
	ABI      abi.ABI
	Networks map[string]Deployment
}

type rawArtifact struct {
	ContractName string                `json:"contractName"`
	ABI          json.RawMessage       `json:"abi"`
	Networks     map[string]Deployment `json:"networks"`
}

// ParseArtifact decodes a truffle-style artifact ({contractName, abi, networks}).
func ParseArtifact(blob []byte) (*Artifact, error) {
	var raw rawArtifact
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if len(raw.ABI) == 0 {
		return nil, fmt.Errorf("artifact has no abi")
	}
	parsed, err := abi.JSON(bytes.NewReader(raw.ABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	networks := make(map[string]Deployment, len(raw.Networks))
	for id, dep := range raw.Networks {
		networks[id] = dep
	}
	return &Artifact{
		Name:     raw.ContractName,
		ABI:      parsed,
		Networks: networks,
	}, nil
}

// LoadArtifact reads an artifact from disk, or returns the embedded Mortgage
// artifact when path is empty.
func LoadArtifact(path string) (*Artifact, error) {
	if path == "" {
		return ParseArtifact(MortgageArtifact)
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseArtifact(blob)
}

// WithDeployments returns a copy of the artifact whose networks mapping is
// overlaid with the given network id -> address entries.
func (a *Artifact) WithDeployments(addresses map[string]string) *Artifact {
	out := &Artifact{
		Name:     a.Name,
		ABI:      a.ABI,
		Networks: make(map[string]Deployment, len(a.Networks)+len(addresses)),
	}
	for id, dep := range a.Networks {
		out.Networks[id] = dep
	}
	for id, addr := range addresses {
		out.Networks[id] = Deployment{Address: addr}
	}
	return out
}

// AddressFor resolves the deployment address on the given network. A missing,
// malformed or zero address counts as not deployed.
func (a *Artifact) AddressFor(networkID *big.Int) (common.Address, bool) {
	if networkID == nil {
		return common.Address{}, false
	}
	dep, ok := a.Networks[networkID.String()]
	if !ok || !common.IsHexAddress(dep.Address) {
		return common.Address{}, false
	}
	addr := common.HexToAddress(dep.Address)
	if addr == (common.Address{}) {
		return common.Address{}, false
	}
	return addr, true
}
