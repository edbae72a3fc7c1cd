package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"docshook/internal/config"
	"docshook/internal/signature"

	"github.com/spf13/cobra"
)

var signCmd = &cobra.Command{
	Use:   "sign [FILE]",
	Short: "Print the X-Hub-Signature-256 value for a payload",
	Long: `Compute the signature GitHub would send for a payload, using the webhook
secret from DOCSHOOK_WEBHOOK_SECRET (or GITHUB_WEBHOOK_SECRET). Reads FILE, or
standard input when FILE is omitted or "-".

Example:
  docshook sign payload.json
  curl -X POST http://localhost:4321/github-webhook \
    -H "X-GitHub-Event: push" \
    -H "X-Hub-Signature-256: $(docshook sign payload.json)" \
    --data-binary @payload.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSign,
}

func runSign(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if !cfg.LoadSecretFromEnv() {
		return errors.New("no webhook secret: set " + config.SecretEnv)
	}

	var payload []byte
	var err error
	if len(args) == 0 || args[0] == "-" {
		payload, err = io.ReadAll(cmd.InOrStdin())
	} else {
		payload, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), signature.Sign(cfg.Secret, payload))
	return nil
}
