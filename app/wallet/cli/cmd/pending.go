package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

type pendingTx struct {
	Hash      string `json:"hash"`
	FromName  string `json:"from_name"`
	ToName    string `json:"to_name"`
	Amount    uint64 `json:"amount"`
	ToAddress string `json:"to_address"`
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Print the uncommitted transactions of the wallet.",
	Run:   pendingRun,
}

func init() {
	rootCmd.AddCommand(pendingCmd)
}

func pendingRun(cmd *cobra.Command, args []string) {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		log.Fatal(err)
	}

	address := database.PublicKeyToAddress(privateKey.PublicKey)
	fmt.Println("For Address:", address)

	resp, err := http.Get(fmt.Sprintf("%s/v1/tx/uncommitted/list/%s", url, address))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	var trans []pendingTx
	if err := json.NewDecoder(resp.Body).Decode(&trans); err != nil {
		log.Fatal(err)
	}

	for _, tx := range trans {
		fmt.Printf("%s %s -> %s: %d\n", tx.Hash, tx.FromName, tx.ToName, tx.Amount)
	}
}
