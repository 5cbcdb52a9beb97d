package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll [passphrase]",
	Short: "Set or rotate the passphrase",
	Long:  "Set or rotate the passphrase. With no argument the passphrase is read from the first line of stdin.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		phrase, err := passphraseArg(args)
		if err != nil {
			return err
		}
		return withPrincipal(func(ctx context.Context, a *app, p string) error {
			if err := a.eng.Enroll(ctx, p, phrase); err != nil {
				return err
			}
			fmt.Println("Passphrase saved.")
			return nil
		})
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock [passphrase]",
	Short: "Open secret memories for the unlock window",
	Long:  "Verify the passphrase and open the unlock window. With no argument the passphrase is read from the first line of stdin.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		phrase, err := passphraseArg(args)
		if err != nil {
			return err
		}
		return withPrincipal(func(ctx context.Context, a *app, p string) error {
			sess, err := a.eng.Unlock(ctx, p, phrase)
			if err != nil {
				return err
			}
			fmt.Printf("Unlocked until %s.\n", sess.ExpiresAt.Format("15:04:05"))
			return nil
		})
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Close the unlock window now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrincipal(func(ctx context.Context, a *app, p string) error {
			had, err := a.eng.Logout(ctx, p)
			if err != nil {
				return err
			}
			if had {
				fmt.Println("Locked.")
			} else {
				fmt.Println("Already locked.")
			}
			return nil
		})
	},
}

// passphraseArg takes the passphrase from args, or from one line of stdin so
// it stays out of shell history.
func passphraseArg(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	fmt.Fprint(os.Stderr, "passphrase: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
