package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <persona> <message...>",
	Short: "Send a message to a persona and enqueue its response",
	Long: `Send appends a message to the named persona's log and enqueues a
HandleResponse request. It does not wait for the response: the request is
saved with the profile and processed the next time 'ei run' starts against
it. Send is refused (PERSONA_LOCK_HELD) while an 'ei run' process holds the
profile.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	dir, err := GetProfileDir()
	if err != nil {
		return err
	}

	ctx := context.Background()
	eng, _, err := buildEngine(ctx, dir, "cli")
	if err != nil {
		return err
	}
	defer eng.Stop()

	persona := args[0]
	text := strings.Join(args[1:], " ")
	if err := eng.SendMessage(ctx, persona, text); err != nil {
		return err
	}

	fmt.Printf("queued response for %s\n", persona)
	return nil
}
