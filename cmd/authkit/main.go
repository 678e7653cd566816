// Command authkit is a small operator tool around the authkit client:
// permission checks, envelope encryption and authenticated API calls with a
// session persisted on disk.
//
// Usage:
//
//	authkit check --grant 'system.**' --grant '-system.menu.delete' system.menu.edit
//	echo '{"a":1}' | authkit encrypt --key "$AUTHKIT_API_ENCRYPT_PUBLIC_KEY"
//	authkit decrypt --key "$KEY" < response.txt
//	authkit login --config authkit.yaml --user admin --password 123456
//	authkit get --config authkit.yaml /user/info
//	authkit logout --config authkit.yaml
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// exitError carries a non-zero exit status without an error message.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func main() {
	err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	if err == nil {
		return
	}
	var code exitError
	if errors.As(err, &code) {
		os.Exit(int(code))
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stderr)
		return exitError(2)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "check":
		return runCheck(rest, stdout, stderr)
	case "encrypt":
		return runEncrypt(rest, stdin, stdout, stderr)
	case "decrypt":
		return runDecrypt(rest, stdin, stdout, stderr)
	case "login":
		return runLogin(rest, stdout, stderr)
	case "get":
		return runGet(rest, stdout, stderr)
	case "logout":
		return runLogout(rest, stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `authkit: client tool for token-authenticated admin APIs.

Usage:
  authkit <command> [flags]

Commands:
  check     evaluate permissions against a set of grants
  encrypt   seal stdin as a request envelope
  decrypt   open a response envelope read from stdin
  login     sign in and persist the session
  get       call an API path with the persisted session
  logout    sign out and remove the persisted session

Run "authkit <command> --help" for command flags.
`)
}
