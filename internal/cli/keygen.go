package cli

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/veritrace/veritrace/internal/crypto"
)

var keygenOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a node identity key",
	Long: `Generate an Ed25519 identity key and write its seed to a file.

The printed actor id is the hex public key. Use it as genesis_regulator in
another node's configuration, or hand it to a regulator for a role grant.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(keygenOut); err == nil {
			return fmt.Errorf("key file already exists: %s", keygenOut)
		}

		pub, prv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		seed := hex.EncodeToString(prv.Seed())
		if err := os.WriteFile(keygenOut, []byte(seed+"\n"), 0o600); err != nil {
			return fmt.Errorf("write key file: %w", err)
		}

		fmt.Printf("key file: %s\n", keygenOut)
		fmt.Printf("actor id: %s\n", crypto.ActorIDFromPublicKey(pub))
		return nil
	},
}

// loadKey reads an Ed25519 seed written by keygen.
func loadKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode key file: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key file: want %d seed bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func init() {
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "veritrace.key", "output key file")
	rootCmd.AddCommand(keygenCmd)
}
