package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// passwordEnv supplies a database password when no flag is given
const passwordEnv = "MULTIDB_BACKUP_DB_PASSWORD"

// passwordReader asks the user for a password
type passwordReader interface {
	ReadPassword(prompt string) (string, error)
}

// termPasswordReader prompts on a terminal without echo and reads a plain line otherwise
type termPasswordReader struct {
	in  *os.File
	out io.Writer
}

func (t termPasswordReader) ReadPassword(prompt string) (string, error) {
	if !term.IsTerminal(int(t.in.Fd())) {
		return "", nil
	}
	fmt.Fprint(t.out, prompt)
	password, err := term.ReadPassword(int(t.in.Fd()))
	fmt.Fprintln(t.out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}

// readPasswordLine reads one line, for --password-stdin
func readPasswordLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

var passwords passwordReader = termPasswordReader{in: os.Stdin, out: os.Stderr}

// resolvePassword picks the flag value, then --password-stdin, then the
// environment, then an interactive prompt
func resolvePassword(flagValue string, fromStdin bool, stdin io.Reader, prompt string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if fromStdin {
		return readPasswordLine(stdin)
	}
	if env := os.Getenv(passwordEnv); env != "" {
		return env, nil
	}
	return passwords.ReadPassword(prompt)
}
