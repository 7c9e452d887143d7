package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	apperrors "github.com/lupppig/dotvault/internal/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	password       string
	promptPassword bool
)

// readPasswordFunc reads one line from the terminal without echo.
var readPasswordFunc = func() ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, apperrors.New(apperrors.TypeConfig, "--prompt requires an interactive terminal", "Use --password instead.")
	}
	return term.ReadPassword(fd)
}

func addPasswordFlags(c *cobra.Command) {
	c.Flags().StringVarP(&password, "password", "p", "", "password used to seal or unseal the archive")
	c.Flags().BoolVarP(&promptPassword, "prompt", "P", false, "read the password from the terminal")
	c.MarkFlagsMutuallyExclusive("password", "prompt")
}

// resolvePassword returns the password from --password or, with --prompt, from
// the terminal. With confirm set it is asked twice and both answers must match.
// A nil result means no password was given.
func resolvePassword(cmd *cobra.Command, confirm bool) ([]byte, error) {
	if !promptPassword {
		if password == "" {
			return nil, nil
		}
		return []byte(password), nil
	}

	w := cmd.ErrOrStderr()
	first, err := ask(w, "Password: ")
	if err != nil {
		return nil, err
	}
	if len(first) == 0 {
		return nil, apperrors.New(apperrors.TypeConfig, "password must not be empty", "")
	}
	if !confirm {
		return first, nil
	}

	second, err := ask(w, "Confirm password: ")
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(first, second) {
		return nil, apperrors.New(apperrors.TypeConfig, "passwords do not match", "")
	}
	return first, nil
}

func ask(w io.Writer, prompt string) ([]byte, error) {
	fmt.Fprint(w, prompt)
	pw, err := readPasswordFunc()
	fmt.Fprintln(w)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.TypeConfig, "failed to read password", "")
	}
	return pw, nil
}
