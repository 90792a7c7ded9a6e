package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattjoyce/conductor/internal/config"
	"github.com/mattjoyce/conductor/internal/notify"
)

// runProcessVerifyWebhook checks a webhook payload against its signature
// header, using notify.webhook_secret from the configuration unless --secret
// is given. The body is read from --body @path or stdin.
func runProcessVerifyWebhook(args []string) int {
	fs := flag.NewFlagSet("verify-webhook", flag.ContinueOnError)
	configPath := configFlag(fs)
	signature := fs.String("signature", "", "Value of the "+notify.SignatureHeader+" header")
	secret := fs.String("secret", "", "Webhook secret (default: notify.webhook_secret)")
	body := fs.String("body", "", "Payload as @path (default: stdin)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *signature == "" {
		fmt.Fprintln(os.Stderr, "Error: --signature is required")
		return 1
	}

	key := *secret
	if key == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		key = cfg.Notify.WebhookSecret
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "Error: no webhook secret configured")
		return 1
	}

	payload, err := readWebhookBody(*body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if err := notify.Verify(payload, *signature, key); err != nil {
		fmt.Fprintln(os.Stderr, "Signature INVALID")
		return 1
	}
	fmt.Println("Signature valid")
	return 0
}

func readWebhookBody(v string) ([]byte, error) {
	if v == "" {
		return io.ReadAll(os.Stdin)
	}
	path, ok := strings.CutPrefix(v, "@")
	if !ok {
		return nil, fmt.Errorf("--body must be @path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}
