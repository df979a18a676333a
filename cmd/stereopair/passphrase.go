package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stevecastle/stereopair/auth"
)

var (
	passphraseCmd = &cobra.Command{
		Use:   "passphrase",
		Short: "Set or clear the passphrase that lets other browsers log in",
		Long: "Reads a passphrase from stdin, stores its bcrypt hash in the config and " +
			"rotates the signing secret so earlier sessions stop working.",
		Args: cobra.NoArgs,
		RunE: runPassphrase,
	}
	passphraseClear bool
)

func init() {
	passphraseCmd.Flags().BoolVar(&passphraseClear, "clear", false, "remove the passphrase")
}

func runPassphrase(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	if passphraseClear {
		cfg.PassphraseHash = ""
	} else {
		phrase, err := readPassphrase(cmd)
		if err != nil {
			return err
		}
		if phrase == "" {
			return errors.New("empty passphrase, use --clear to remove it")
		}
		hash, err := auth.HashPassphrase(phrase)
		if err != nil {
			return err
		}
		cfg.PassphraseHash = hash
	}
	cfg.JWTSecret = uuid.NewString()

	path, err := saveConfig(cfg)
	if err != nil {
		return err
	}
	logrus.WithField("config", path).Info("passphrase updated, existing sessions revoked")
	return nil
}

// readPassphrase reads without echo from a terminal, or one line from a pipe.
func readPassphrase(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "passphrase: ")
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read passphrase: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
