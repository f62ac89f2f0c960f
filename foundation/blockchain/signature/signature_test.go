package signature_test

import (
	"errors"
	"testing"

	"github.com/ledgercore/node/foundation/blockchain/signature"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	from     = "0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4"
)

// =============================================================================

func Test_Signing(t *testing.T) {
	var signer signature.Secp256k1
	data := []byte("id|transfer|inputs|outputs|fee|created")

	t.Log("Given the need to sign and verify transaction data.")
	{
		pk, err := signature.LoadKey(pkHexKey)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to load a private key: %s", failed, err)
		}
		t.Logf("\t%s\tShould be able to load a private key.", success)

		pub, err := signer.PublicKey(pk)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to derive the public key: %s", failed, err)
		}
		if len(pub) != 33 {
			t.Fatalf("\t%s\tShould derive a compressed public key: got %d bytes", failed, len(pub))
		}
		t.Logf("\t%s\tShould be able to derive the public key.", success)

		sig, err := signer.Sign(data, pk)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to sign data: %s", failed, err)
		}
		t.Logf("\t%s\tShould be able to sign data.", success)

		if err := signer.Verify(data, sig, pub); err != nil {
			t.Fatalf("\t%s\tShould be able to verify the signature: %s", failed, err)
		}
		t.Logf("\t%s\tShould be able to verify the signature.", success)

		addr, err := signature.Address(pub)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to derive the address: %s", failed, err)
		}
		if addr != from {
			t.Logf("\t\tgot: %s", addr)
			t.Logf("\t\texp: %s", from)
			t.Fatalf("\t%s\tShould get back the right address.", failed)
		}
		t.Logf("\t%s\tShould get back the right address.", success)
	}
}

func Test_Tampering(t *testing.T) {
	var signer signature.Secp256k1
	data := []byte("payload")

	pk, err := signature.LoadKey("0x" + pkHexKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to load a prefixed private key: %s", failed, err)
	}

	pub, _ := signer.PublicKey(pk)
	sig, err := signer.Sign(data, pk)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign data: %s", failed, err)
	}

	other, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a key: %s", failed, err)
	}
	otherPub, _ := signer.PublicKey(other)

	bad := make([]byte, len(sig))
	copy(bad, sig)
	bad[10] ^= 0x01

	type table struct {
		name string
		data []byte
		sig  []byte
		pub  []byte
		err  error
	}

	tt := []table{
		{name: "data", data: []byte("Payload"), sig: sig, pub: pub, err: signature.ErrInvalidSignature},
		{name: "key", data: data, sig: sig, pub: otherPub, err: signature.ErrInvalidSignature},
		{name: "sig", data: data, sig: bad, pub: pub, err: signature.ErrInvalidSignature},
		{name: "short", data: data, sig: sig[:64], pub: pub, err: signature.ErrInvalidSignature},
		{name: "pub", data: data, sig: sig, pub: []byte{1, 2, 3}, err: signature.ErrInvalidKey},
	}

	for testID, tst := range tt {
		f := func(t *testing.T) {
			err := signer.Verify(tst.data, tst.sig, tst.pub)
			if !errors.Is(err, tst.err) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a tampered %s: got %v", failed, testID, tst.name, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a tampered %s.", success, testID, tst.name)
		}

		t.Run(tst.name, f)
	}

	if _, err := signature.LoadKey("0xnothex"); !errors.Is(err, signature.ErrInvalidKey) {
		t.Fatalf("\t%s\tShould reject a malformed key: got %v", failed, err)
	}
	t.Logf("\t%s\tShould reject a malformed key.", success)
}
