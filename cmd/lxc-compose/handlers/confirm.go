package handlers

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// ErrNotConfirmed is returned when the confirmation phrase was not typed
// exactly.
var ErrNotConfirmed = errors.New("confirmation phrase did not match, aborting")

// ConfirmPhrase is the text that must be typed, case-sensitively, before op
// runs against every managed container.
func ConfirmPhrase(op string) string {
	return fmt.Sprintf("Yes, I want to %s all containers. I am aware of the risks involved.", op)
}

// Factory function variables for confirmation - can be replaced in tests.
var (
	// isTerminal reports whether stdin is interactive.
	isTerminal = func() bool {
		f, ok := stdin.(*os.File)
		if !ok {
			return false
		}
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	// promptInput asks for one line of text in an interactive form.
	promptInput = func(title, description string) (string, error) {
		var answer string
		err := huh.NewInput().
			Title(title).
			Description(description).
			Value(&answer).
			Run()
		return answer, err
	}
)

// confirmAll demands the confirmation phrase for op.
func confirmAll(op string) error {
	phrase := ConfirmPhrase(op)

	var answer string
	if isTerminal() {
		a, err := promptInput(
			fmt.Sprintf("This will %s ALL managed containers", op),
			fmt.Sprintf("Type exactly: %s", phrase),
		)
		if err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return ErrNotConfirmed
			}
			return fmt.Errorf("confirmation prompt failed: %w", err)
		}
		answer = a
	} else {
		fmt.Fprintf(stderr, "This will %s ALL managed containers.\nType exactly:\n  %s\n> ", op, phrase)
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		answer = strings.TrimRight(line, "\r\n")
	}

	if answer != phrase {
		return ErrNotConfirmed
	}
	return nil
}
