// Package cli holds the small interactive pieces of the enrollment driver.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/manifoldco/promptui"
)

// PromptConfirm asks a yes/no question. A "no" answer, or an interrupted
// prompt, is false with no error.
func PromptConfirm(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
		Stdin:     os.Stdin,
		Stdout:    os.Stdout,
	}

	_, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// Notice writes a framed message that the user has to read before the flow
// can go on.
func Notice(w io.Writer, title, message string) {
	_, _ = fmt.Fprintf(w, "\n%s\n  %s\n%s\n\n", promptui.Styler(promptui.FGRed, promptui.FGBold)(title),
		message, promptui.Styler(promptui.FGFaint)("--"))
}
