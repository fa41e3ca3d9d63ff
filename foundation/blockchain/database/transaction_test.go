package database_test

import (
	"errors"
	"testing"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	pkHexKey  = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	pkHexKey2 = "8dc79feefd3b86e2f9991def0e5ccd9a5128e104682407b308594bc1032ac7f0"
)

func wallet(t *testing.T, hexKey string) database.Wallet {
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	return database.WalletFromKey(pk)
}

// =============================================================================

func Test_SignTransaction(t *testing.T) {
	type table struct {
		name   string
		to     string
		amount uint64
		err    error
	}

	tt := []table{
		{name: "basic", to: "alice", amount: 10},
		{name: "large", to: "bob", amount: ^uint64(0)},
		{name: "zero", to: "bob", amount: 0, err: database.ErrInvalidAmount},
	}

	t.Log("Given the need to sign transactions.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling a %s transaction.", testID, tst.name)
			{
				f := func(t *testing.T) {
					w := wallet(t, pkHexKey)

					tx, err := database.NewSignedTx(w, tst.to, tst.amount)
					if tst.err != nil {
						if !errors.Is(err, tst.err) {
							t.Logf("\t%s\tTest %d:\tgot: %v", failed, testID, err)
							t.Logf("\t%s\tTest %d:\texp: %v", failed, testID, tst.err)
							t.Fatalf("\t%s\tTest %d:\tShould reject the transaction.", failed, testID)
						}
						t.Logf("\t%s\tTest %d:\tShould reject the transaction.", success, testID)
						return
					}

					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould be able to sign transaction: %s", failed, testID, err)
					}
					t.Logf("\t%s\tTest %d:\tShould be able to sign transaction.", success, testID)

					if tx.FromAddress != w.Address {
						t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, tx.FromAddress)
						t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, w.Address)
						t.Fatalf("\t%s\tTest %d:\tShould carry the wallet address.", failed, testID)
					}

					if !tx.Verify() {
						t.Fatalf("\t%s\tTest %d:\tShould verify the signed transaction.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould verify the signed transaction.", success, testID)
				}

				t.Run(tst.name, f)
			}
		}
	}
}

func Test_FlippedSignature(t *testing.T) {
	tx, err := database.NewSignedTx(wallet(t, pkHexKey), "alice", 50)
	if err != nil {
		t.Fatalf("Should be able to sign transaction: %s", err)
	}

	for i := range tx.Signature {
		bad := tx.Clone()
		bad.Signature[i] ^= 0xff

		if bad.Verify() {
			t.Fatalf("Should not verify with byte %d of the signature flipped.", i)
		}
	}

	if !tx.Verify() {
		t.Fatalf("Should not have modified the original signature.")
	}
}

func Test_SubstitutedKey(t *testing.T) {
	tx, err := database.NewSignedTx(wallet(t, pkHexKey), "alice", 50)
	if err != nil {
		t.Fatalf("Should be able to sign transaction: %s", err)
	}

	tx.PublicKey = wallet(t, pkHexKey2).PublicKey()

	if err := tx.Validate(); !errors.Is(err, database.ErrSignatureMismatch) {
		t.Logf("got: %v", err)
		t.Logf("exp: %v", database.ErrSignatureMismatch)
		t.Fatalf("Should not verify with a different public key.")
	}
}

func Test_MissingMaterial(t *testing.T) {
	tx, err := database.NewSignedTx(wallet(t, pkHexKey), "alice", 50)
	if err != nil {
		t.Fatalf("Should be able to sign transaction: %s", err)
	}

	noKey := tx.Clone()
	noKey.PublicKey = nil
	if err := noKey.Validate(); !errors.Is(err, database.ErrMissingPublicKey) {
		t.Fatalf("Should report the missing public key, got %v.", err)
	}

	noSig := tx.Clone()
	noSig.Signature = nil
	if err := noSig.Validate(); !errors.Is(err, database.ErrMissingSignature) {
		t.Fatalf("Should report the missing signature, got %v.", err)
	}

	var unsigned database.Tx
	if unsigned.Verify() {
		t.Fatalf("Should not verify an unsigned transaction.")
	}
}

func Test_TamperedFields(t *testing.T) {
	tx, err := database.NewSignedTx(wallet(t, pkHexKey), "alice", 50)
	if err != nil {
		t.Fatalf("Should be able to sign transaction: %s", err)
	}

	amount := tx.Clone()
	amount.Amount = 5000
	if amount.Verify() {
		t.Fatalf("Should not verify with a changed amount.")
	}

	to := tx.Clone()
	to.ToAddress = "mallory"
	if to.Verify() {
		t.Fatalf("Should not verify with a changed recipient.")
	}

	from := tx.Clone()
	from.FromAddress = wallet(t, pkHexKey2).Address
	if from.Verify() {
		t.Fatalf("Should not verify with a changed sender.")
	}
}

func Test_TransactionHash(t *testing.T) {
	w := wallet(t, pkHexKey)

	tx1, err := database.NewSignedTx(w, "alice", 50)
	if err != nil {
		t.Fatalf("Should be able to sign transaction: %s", err)
	}

	tx2, err := database.NewSignedTx(w, "alice", 51)
	if err != nil {
		t.Fatalf("Should be able to sign transaction: %s", err)
	}

	if tx1.Hash() != tx1.Clone().Hash() {
		t.Fatalf("Should get back the same hash for the same transaction.")
	}

	if tx1.Hash() == tx2.Hash() {
		t.Fatalf("Should get back different hashes for different transactions.")
	}

	if len(tx1.Hash()) != 64 {
		t.Fatalf("Should get back a hex encoded sha256 hash, got %q.", tx1.Hash())
	}

	if !database.IsAddress(w.Address) {
		t.Fatalf("Should derive a well formed address, got %q.", w.Address)
	}
}
