package cmd

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stephenschoettler/frontdesk-ai/internal/credstore"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a credential encryption key",
		Long: `Generates a random 32-byte AES-256 key and prints it base64 encoded,
ready for the CREDENTIALS_ENCRYPTION_KEY environment variable.

Store the key securely. Rotating it without re-encrypting existing rows
makes stored credentials unreadable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := credstore.GenerateEncryptionKey()
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(key))
			return nil
		},
	}
}
