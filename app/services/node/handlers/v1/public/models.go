package public

import (
	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/peer"
	"github.com/ardanlabs/powledger/foundation/validate"
)

type chainInfo struct {
	Length int              `json:"length"`
	Valid  bool             `json:"valid"`
	Blocks []database.Block `json:"blocks"`
}

type minedBlock struct {
	Status string         `json:"status"`
	Block  database.Block `json:"block"`
}

type tx struct {
	Hash        string `json:"hash"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name"`
	ToAddress   string `json:"to_address"`
	ToName      string `json:"to_name"`
	Amount      uint64 `json:"amount"`
	Signature   string `json:"signature"`
}

type peers struct {
	Peers []peer.Peer `json:"peers"`
}

// NewPeer is what a client posts to add a peer to the node.
type NewPeer struct {
	ID   peer.ID `json:"id"`
	Host string  `json:"host" validate:"required,hostname_port"`
}

// Validate checks the data in the model is considered clean.
func (np NewPeer) Validate() error {
	return validate.Check(np)
}

// Send is what a client posts to transfer value out of a node held wallet.
type Send struct {
	ToAddress string `json:"to_address" validate:"required"`
	Amount    uint64 `json:"amount" validate:"required,gt=0"`
}

// Validate checks the data in the model is considered clean.
func (s Send) Validate() error {
	return validate.Check(s)
}

// txDocument is the wire form of a signed transaction. It carries no
// Validate method so decoding never runs the signature check.
type txDocument database.Tx
