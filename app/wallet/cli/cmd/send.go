package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var (
	to     string
	amount uint64
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send transaction",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		tx, err := database.NewSignedTx(database.WalletFromKey(privateKey), to, amount)
		if err != nil {
			log.Fatal(err)
		}

		status, err := submit(http.DefaultClient, url, tx)
		if err != nil {
			log.Fatal(err)
		}

		fmt.Println(status)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Address to send to.")
	sendCmd.Flags().Uint64VarP(&amount, "amount", "v", 0, "Amount to send.")
}

// submit posts the signed transaction to the public api of the node.
func submit(client *http.Client, nodeURL string, tx database.Tx) (string, error) {
	data, err := json.Marshal(tx)
	if err != nil {
		return "", err
	}

	resp, err := client.Post(fmt.Sprintf("%s/v1/tx/submit", nodeURL), "application/json", bytes.NewBuffer(data))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var result struct {
		Status string `json:"status"`
		Hash   string `json:"hash"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decoding response[%d]: %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("node rejected transaction[%d]: %s", resp.StatusCode, result.Error)
	}

	return fmt.Sprintf("%s: %s", result.Status, result.Hash), nil
}
