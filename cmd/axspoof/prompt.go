package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	warnColor    = color.New(color.FgYellow, color.Bold)
	errColor     = color.New(color.FgRed, color.Bold)
	okColor      = color.New(color.FgGreen)
	headingColor = color.New(color.FgCyan, color.Bold)
)

// confirm asks the user to type answer to go ahead. --yes skips the
// question. Without a terminal on stdin the answer is no.
func confirm(question, answer string) (bool, error) {
	if yesFlag {
		return true, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("stdin is not a terminal, pass --yes to confirm")
	}
	warnColor.Fprintf(os.Stderr, "%s\n", question)
	fmt.Fprintf(os.Stderr, "Type %q to continue: ", answer)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), answer), nil
}
