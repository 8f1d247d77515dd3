package main

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/blockvault/barc/internal/cryptocodec"
	"github.com/blockvault/barc/internal/secret"
)

// promptPassword reads a password from the controlling terminal without
// echoing it. The read bytes are wiped immediately after being copied
// into the returned secret.Password, so the terminal buffer is the only
// other place they ever existed.
func promptPassword(label string) (*secret.Password, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	pw := secret.New()
	setErr := pw.SetBytes(raw)
	for i := range raw {
		raw[i] = 0
	}
	if setErr != nil {
		return nil, setErr
	}
	return pw, nil
}

// promptSecretInto adapts promptPassword to the archive.PasswordPrompt
// shape the netauth resolver consumes, filling the caller's container in
// place.
func promptSecretInto(ctx context.Context, label string, pw *secret.Password) error {
	got, err := promptPassword(label)
	if err != nil {
		return err
	}
	defer got.Clear()
	d := got.Deploy()
	defer d.Release()
	return pw.SetBytes(d.Bytes())
}

// resolveArchivePassword returns the password used for archive encryption
// key derivation: the --password flag if given, an interactive prompt if
// the chosen cipher needs one and none was given, or nil for
// cryptocodec.None (no password needed).
func resolveArchivePassword(cipher cryptocodec.Algorithm) (*secret.Password, error) {
	if cipher == cryptocodec.None {
		return nil, nil
	}
	if flagPassword != "" {
		return secret.NewFromString(flagPassword)
	}
	return promptPassword("archive password")
}
