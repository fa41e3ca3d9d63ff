package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/crypto"
)

func Test_Generate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts", "kennedy.ecdsa")

	address, err := generate(path)
	if err != nil {
		t.Fatalf("Should be able to generate a key: %s", err)
	}

	privateKey, err := crypto.LoadECDSA(path)
	if err != nil {
		t.Fatalf("Should be able to load the saved key: %s", err)
	}

	if got := database.PublicKeyToAddress(privateKey.PublicKey); got != address {
		t.Fatalf("Should print the address of the saved key, got %s exp %s.", got, address)
	}

	if _, err := generate(path); err == nil {
		t.Fatalf("Should not overwrite an existing key.")
	}
}

func Test_Submit(t *testing.T) {
	wallet, err := database.NewWallet()
	if err != nil {
		t.Fatalf("Should be able to create a wallet: %s", err)
	}

	tx, err := database.NewSignedTx(wallet, "bob", 3)
	if err != nil {
		t.Fatalf("Should be able to sign a transaction: %s", err)
	}

	h := func(w http.ResponseWriter, r *http.Request) {
		var got database.Tx
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil || !got.Verify() {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"signature does not match"}`))
			return
		}
		w.Write([]byte(`{"status":"transaction added to mempool","hash":"` + got.Hash() + `"}`))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tx/submit", h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Run("accepted", func(t *testing.T) {
		status, err := submit(srv.Client(), srv.URL, tx)
		if err != nil {
			t.Fatalf("Should be able to submit: %s", err)
		}
		if !strings.HasSuffix(status, tx.Hash()) {
			t.Fatalf("Should report the transaction hash, got %q.", status)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		bad := tx.Clone()
		bad.Amount = 300

		_, err := submit(srv.Client(), srv.URL, bad)
		if err == nil || !strings.Contains(err.Error(), "signature does not match") {
			t.Fatalf("Should report the node's rejection, got %v.", err)
		}
	})
}
