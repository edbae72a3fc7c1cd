package main

import (
	"fmt"
	"os"

	"docshook/internal/config"
	"docshook/internal/githook"
	"docshook/internal/security"

	"github.com/spf13/cobra"
)

var (
	hookRepo        string
	hookURL         string
	hookSecret      string
	hookGitHubToken string
	hookAPIURL      string
	hookInsecureSSL bool
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Create or update the GitHub push webhook",
	Long: `Register the docshook endpoint as a push webhook on a GitHub repository.

An existing webhook with the same URL is updated with the current secret.
When no secret is given a strong one is generated and printed once: put it in
DOCSHOOK_WEBHOOK_SECRET on the server.

Example:
  GITHUB_TOKEN=ghp_xxx docshook hook --repo openagents/docs \
    --url https://docs.example.com/github-webhook`,
	Args: cobra.NoArgs,
	RunE: runHook,
}

func init() {
	hookCmd.Flags().StringVar(&hookRepo, "repo", "", "GitHub owner/repo")
	hookCmd.Flags().StringVar(&hookURL, "url", "", "Public URL of the webhook route")
	hookCmd.Flags().StringVar(&hookSecret, "secret", os.Getenv(config.SecretEnv), "Webhook secret (generated if empty)")
	hookCmd.Flags().StringVar(&hookGitHubToken, "github-token", os.Getenv("GITHUB_TOKEN"), "GitHub token with admin:repo_hook scope")
	hookCmd.Flags().StringVar(&hookAPIURL, "api-url", "", "GitHub API base URL (GitHub Enterprise)")
	hookCmd.Flags().BoolVar(&hookInsecureSSL, "insecure-ssl", false, "Let GitHub skip TLS verification of the URL")

	hookCmd.MarkFlagRequired("repo")
	hookCmd.MarkFlagRequired("url")
}

func runHook(cmd *cobra.Command, args []string) error {
	owner, repo, err := githook.ParseRepo(hookRepo)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	secret := hookSecret
	generated := false
	if secret == "" {
		secret, err = security.GenerateSecret()
		if err != nil {
			return err
		}
		generated = true
	} else if err := security.ValidateSecret([]byte(secret)); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
	}

	client, err := githook.NewClient(cmd.Context(), hookGitHubToken)
	if err != nil {
		return fmt.Errorf("%w: set GITHUB_TOKEN or use --github-token", err)
	}
	if hookAPIURL != "" {
		if client, err = client.WithBaseURL(hookAPIURL); err != nil {
			return err
		}
	}

	hook, action, err := client.EnsureWebhook(cmd.Context(), githook.Options{
		Owner:       owner,
		Repo:        repo,
		URL:         hookURL,
		Secret:      secret,
		InsecureSSL: hookInsecureSSL,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Webhook %d %s on %s/%s for %s\n", hook.GetID(), action, owner, repo, hookURL)
	if generated {
		fmt.Fprintf(out, "\nGenerated webhook secret (shown once):\n\n  %s=%s\n", config.SecretEnv, secret)
	}
	return nil
}
